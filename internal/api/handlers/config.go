package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rkvashchuk/l4proxyd/internal/api/models"
)

// ExportConfig godoc
// @Summary Export the full instance registry as a TOML document
// @Tags config
// @Produce json
// @Success 200 {object} models.ExportResponse
// @Security ApiKeyAuth
// @Router /config/export [get]
func (h *Handler) ExportConfig(c *gin.Context) {
	doc, err := h.registry.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.ExportResponse{Document: string(doc)})
}

// ImportConfig godoc
// @Summary Replace the instance registry from a TOML document
// @Description Every currently running instance is stopped before the import is installed.
// @Tags config
// @Accept json
// @Produce json
// @Param body body models.ImportRequest true "exported document"
// @Success 200 {object} models.StatusResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /config/import [post]
func (h *Handler) ImportConfig(c *gin.Context) {
	var req models.ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.registry.Import(c.Request.Context(), []byte(req.Document)); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{Status: "imported"})
}

// BackupConfig godoc
// @Summary Snapshot the current registry document to a timestamped file
// @Tags config
// @Produce json
// @Success 200 {object} models.BackupResponse
// @Security ApiKeyAuth
// @Router /config/backup [post]
func (h *Handler) BackupConfig(c *gin.Context) {
	path, err := h.registry.Backup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.BackupResponse{Path: path})
}
