package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/offline-downloader/internal/app"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	registry *app.Registry
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(registry *app.Registry) *HealthHandler {
	return &HealthHandler{registry: registry}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"downloads": len(h.registry.List()),
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
