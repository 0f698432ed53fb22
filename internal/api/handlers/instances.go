package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rkvashchuk/l4proxyd/internal/api/models"
	"github.com/rkvashchuk/l4proxyd/internal/registry"
)

// ListInstances godoc
// @Summary List proxy instances
// @Description Returns every instance definition, optionally filtered by status
// @Tags instances
// @Produce json
// @Param status query string false "stopped|starting|running|stopping|error"
// @Success 200 {array} models.InstanceResponse
// @Security ApiKeyAuth
// @Router /instances [get]
func (h *Handler) ListInstances(c *gin.Context) {
	var statusFilter *registry.Status
	if raw := c.Query("status"); raw != "" {
		s := registry.Status(raw)
		statusFilter = &s
	}

	defs := h.registry.List(statusFilter)
	out := make([]models.InstanceResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, toInstanceResponse(d))
	}
	c.JSON(http.StatusOK, out)
}

// GetInstance godoc
// @Summary Get a proxy instance
// @Tags instances
// @Produce json
// @Param id path string true "instance id"
// @Success 200 {object} models.InstanceResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id} [get]
func (h *Handler) GetInstance(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	d, ok := h.registry.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(d))
}

// CreateInstance godoc
// @Summary Create a proxy instance
// @Tags instances
// @Accept json
// @Produce json
// @Param body body models.CreateInstanceRequest true "instance definition"
// @Success 201 {object} models.InstanceResponse
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances [post]
func (h *Handler) CreateInstance(c *gin.Context) {
	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	cfg, err := configFromCreate(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	def, err := h.registry.Create(c.Request.Context(), registry.CreateRequest{
		Name:      req.Name,
		Config:    cfg,
		AutoStart: req.AutoStart,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, toInstanceResponse(def))
}

// UpdateInstance godoc
// @Summary Update a proxy instance
// @Tags instances
// @Accept json
// @Produce json
// @Param id path string true "instance id"
// @Param body body models.UpdateInstanceRequest true "partial patch"
// @Success 200 {object} models.InstanceResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id} [put]
func (h *Handler) UpdateInstance(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req models.UpdateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	patch, err := patchFromUpdate(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	def, err := h.registry.Update(c.Request.Context(), id, patch)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
			return
		}
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}

	c.JSON(http.StatusOK, toInstanceResponse(def))
}

// DeleteInstance godoc
// @Summary Delete a proxy instance
// @Tags instances
// @Param id path string true "instance id"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id} [delete]
func (h *Handler) DeleteInstance(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	if err := h.registry.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// StartInstance godoc
// @Summary Start a proxy instance
// @Tags instances
// @Produce json
// @Param id path string true "instance id"
// @Success 200 {object} models.InstanceResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id}/start [post]
func (h *Handler) StartInstance(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	def, err := h.registry.Start(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(def))
}

// StopInstance godoc
// @Summary Stop a proxy instance
// @Tags instances
// @Produce json
// @Param id path string true "instance id"
// @Success 200 {object} models.InstanceResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /instances/{id}/stop [post]
func (h *Handler) StopInstance(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}
	def, err := h.registry.Stop(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "instance not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, toInstanceResponse(def))
}

func (h *Handler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid instance id"})
		return uuid.UUID{}, false
	}
	return id, true
}
