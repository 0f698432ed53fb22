// Package handlers implements the REST API endpoint handlers for
// l4proxyd's control plane.
//
// @title l4proxyd Management API
// @version 1.0
// @description REST API for managing l4proxyd proxy instances.
//
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
//
// @host localhost:8080
// @BasePath /api/v1
//
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
package handlers

import (
	"log/slog"
	"time"

	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

// Handler wires the HTTP layer to the instance registry and the shared
// metrics manager (for the process-wide /performance endpoint).
type Handler struct {
	registry  *registry.Registry
	metrics   *metrics.Manager
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Handler bound to reg and m.
func New(reg *registry.Registry, m *metrics.Manager, logger *slog.Logger) *Handler {
	return &Handler{
		registry:  reg,
		metrics:   m,
		logger:    logger,
		startTime: time.Now(),
	}
}
