package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rkvashchuk/l4proxyd/internal/api/models"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

func toInstanceStatsResponse(s registry.Stats) models.InstanceStatsResponse {
	return models.InstanceStatsResponse{
		ID:                  s.ID.String(),
		Name:                s.Name,
		Status:              string(s.Status),
		IsRunning:           s.IsRunning,
		BytesSent:           s.BytesSent,
		BytesReceived:       s.BytesReceived,
		ConnectionsActive:   s.ConnectionsActive,
		ConnectionsTotal:    s.ConnectionsTotal,
		Errors:              s.Errors,
		BytesSentPerSec:     s.BytesSentPerSec,
		BytesReceivedPerSec: s.BytesReceivedPerSec,
		ErrorRate:           s.ErrorRate,
		UptimeSeconds:       s.UptimeSeconds,
	}
}

// InstanceStats godoc
// @Summary One instance's metrics snapshot
// @Tags stats
// @Produce json
// @Param id path string true "instance id"
// @Success 200 {object} models.InstanceStatsResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id}/stats [get]
func (h *Handler) InstanceStats(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	s, ok := h.registry.StatsFor(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
		return
	}
	c.JSON(http.StatusOK, toInstanceStatsResponse(s))
}

// AllStats godoc
// @Summary Every instance's metrics snapshot
// @Tags stats
// @Produce json
// @Success 200 {array} models.InstanceStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) AllStats(c *gin.Context) {
	stats := h.registry.Stats()
	out := make([]models.InstanceStatsResponse, 0, len(stats))
	for _, s := range stats {
		out = append(out, toInstanceStatsResponse(s))
	}
	c.JSON(http.StatusOK, out)
}

// SessionMetrics godoc
// @Summary UDP session-table occupancy for one instance
// @Description For TCP-only instances this reports the active connection count instead.
// @Tags stats
// @Produce json
// @Param id path string true "instance id"
// @Success 200 {object} models.SessionMetricsResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id}/session-metrics [get]
func (h *Handler) SessionMetrics(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	s, ok := h.registry.StatsFor(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
		return
	}
	c.JSON(http.StatusOK, models.SessionMetricsResponse{
		ID:               s.ID.String(),
		ActiveSessions:   s.ConnectionsActive,
		ConnectionsTotal: s.ConnectionsTotal,
	})
}

// Performance godoc
// @Summary Process-wide system metrics
// @Tags stats
// @Produce json
// @Success 200 {object} models.PerformanceResponse
// @Security ApiKeyAuth
// @Router /performance [get]
func (h *Handler) Performance(c *gin.Context) {
	snap := h.metrics.SystemSnapshot()
	c.JSON(http.StatusOK, models.PerformanceResponse{
		UptimeSeconds:     snap.UptimeSeconds,
		TotalMemoryMB:     snap.TotalMemoryMB,
		UsedMemoryMB:      snap.UsedMemoryMB,
		CPUUsagePercent:   snap.CPUUsagePercent,
		ActiveConnections: snap.ActiveConnections,
		LastUpdated:       snap.LastUpdated.Format(time.RFC3339),
	})
}
