package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hetu-project/subnet-grader/services/validator/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	validationService *services.ValidationService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(validationService *services.ValidationService) *HealthHandler {
	return &HealthHandler{
		validationService: validationService,
	}
}

// Health handles basic health check
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "validator",
	})
}

// Ready handles readiness check
func (h *HealthHandler) Ready(c *gin.Context) {
	if err := h.validationService.Ready(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "analyzer unreachable: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"service": "validator",
	})
}
