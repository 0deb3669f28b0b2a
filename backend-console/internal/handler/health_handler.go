package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthChecker is a dependency whose reachability gates readiness
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check HTTP requests
type HealthHandler struct {
	service string
	checks  map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler. Nil checkers are skipped.
func NewHealthHandler(service string, checks map[string]HealthChecker) *HealthHandler {
	live := make(map[string]HealthChecker, len(checks))
	for name, hc := range checks {
		if hc != nil {
			live[name] = hc
		}
	}
	return &HealthHandler{service: service, checks: live}
}

// Health returns basic health status
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": h.service,
	})
}

// Ready checks if the service is ready to accept traffic
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	deps := gin.H{}
	ready := true
	for name, hc := range h.checks {
		if err := hc.HealthCheck(c.Request.Context()); err != nil {
			deps[name] = "disconnected: " + err.Error()
			ready = false
			continue
		}
		deps[name] = "connected"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":       "not_ready",
			"service":      h.service,
			"dependencies": deps,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ready",
		"service":      h.service,
		"dependencies": deps,
	})
}
