package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"strix/internal/logging"
	"strix/internal/tools"
)

type toolHandler struct {
	registry *tools.Registry
	index    *tools.Index
	logger   logging.Logger
}

func newToolHandler(registry *tools.Registry, index *tools.Index) *toolHandler {
	return &toolHandler{
		registry: registry,
		index:    index,
		logger:   logging.NewComponentLogger("tool-api"),
	}
}

func (h *toolHandler) invalidateIndex() {
	if h.index != nil {
		h.index.Invalidate()
	}
}

func (h *toolHandler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.ListActive())
}

func (h *toolHandler) register(c *gin.Context) {
	var req tools.Descriptor
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	created, err := h.registry.Register(&req)
	if err != nil {
		writeError(c, err)
		return
	}
	h.invalidateIndex()
	c.JSON(http.StatusCreated, created)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *toolHandler) setActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active is required"})
		return
	}
	if err := h.registry.SetActive(c.Param("id"), *req.Active); err != nil {
		writeError(c, err)
		return
	}
	h.invalidateIndex()
	c.JSON(http.StatusOK, gin.H{"message": "Tool updated"})
}

func (h *toolHandler) remove(c *gin.Context) {
	if err := h.registry.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	h.invalidateIndex()
	c.JSON(http.StatusOK, gin.H{"message": "Tool deleted"})
}
