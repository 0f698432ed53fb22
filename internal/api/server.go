// Package api assembles the gin-gonic HTTP control plane for l4proxyd:
// the REST surface spec.md §6 describes as an external collaborator of
// the core, here wired end to end so the repository is runnable.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rkvashchuk/l4proxyd/internal/api/handlers"
	"github.com/rkvashchuk/l4proxyd/internal/api/middleware"
	"github.com/rkvashchuk/l4proxyd/internal/metrics"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

// Server is the management REST API server fronting one Registry.
type Server struct {
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server listening on host:port, backed by reg and m. apiKey,
// if non-empty, requires every /api/v1 request to carry a matching
// X-API-Key header.
func New(host string, port int, apiKey string, reg *registry.Registry, m *metrics.Manager, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.SlogRequestLogger(logger))

	h := handlers.New(reg, m, logger)
	RegisterRoutes(engine, h, apiKey)

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{logger: logger, engine: engine, httpServer: httpServer}
}

// Addr returns the bind address the server was constructed with.
func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

// Engine exposes the underlying gin engine, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
