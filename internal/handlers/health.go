package handlers

import (
	"net/http"

	"github.com/Adam151997/Y-CRM-sub000/internal/store"
	"github.com/Adam151997/Y-CRM-sub000/internal/version"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports process and database health.
type HealthHandler struct {
	store *store.Store
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(s *store.Store) *HealthHandler {
	return &HealthHandler{store: s}
}

// Healthz returns 200 when the database is reachable, 503 otherwise.
//
// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	if err := h.store.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}
