package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/rkvashchuk/l4proxyd/internal/api/handlers"
	"github.com/rkvashchuk/l4proxyd/internal/api/middleware"
)

// RegisterRoutes wires every endpoint in spec.md §6 onto r, optionally
// behind an API-key middleware.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, apiKey string) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	if apiKey != "" {
		v1.Use(middleware.RequireAPIKey(apiKey))
	}

	v1.GET("/instances", h.ListInstances)
	v1.GET("/instances/:id", h.GetInstance)
	v1.POST("/instances", h.CreateInstance)
	v1.PUT("/instances/:id", h.UpdateInstance)
	v1.DELETE("/instances/:id", h.DeleteInstance)
	v1.POST("/instances/:id/start", h.StartInstance)
	v1.POST("/instances/:id/stop", h.StopInstance)

	v1.GET("/instances/:id/stats", h.InstanceStats)
	v1.GET("/instances/:id/session-metrics", h.SessionMetrics)
	v1.GET("/stats", h.AllStats)
	v1.GET("/performance", h.Performance)

	v1.GET("/config/export", h.ExportConfig)
	v1.POST("/config/import", h.ImportConfig)
	v1.POST("/config/backup", h.BackupConfig)
}
