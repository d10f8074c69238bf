package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hetu-project/subnet-grader/services/validator/models"
	"github.com/hetu-project/subnet-grader/services/validator/services"
)

// maxSampleSize bounds the per-request sample size override
const maxSampleSize = 1000

// ValidationHandler handles grading-related HTTP requests
type ValidationHandler struct {
	validationService *services.ValidationService
	logger            *zap.Logger
}

// NewValidationHandler creates a new validation handler
func NewValidationHandler(validationService *services.ValidationService, logger *zap.Logger) *ValidationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ValidationHandler{
		validationService: validationService,
		logger:            logger,
	}
}

// Grade handles tolerance grading requests
func (h *ValidationHandler) Grade(c *gin.Context) {
	var req models.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format: " + err.Error(),
		})
		return
	}

	// Execute grading
	verdict, err := h.validationService.Grade(c.Request.Context(), req.Posts)
	if err != nil {
		h.logger.Error("Grading failed", zap.Int("posts", len(req.Posts)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    verdict,
	})
}

// ValidateBatch handles sampled exact-match batch validation requests
func (h *ValidationHandler) ValidateBatch(c *gin.Context) {
	var req models.BatchValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request format: " + err.Error(),
		})
		return
	}

	if req.SampleSize < 0 || req.SampleSize > maxSampleSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   fmt.Sprintf("sample_size must be between 0 (default) and %d", maxSampleSize),
		})
		return
	}

	result, err := h.validationService.ValidateBatch(c.Request.Context(), req.Posts, req.SampleSize, req.Seed)
	if err != nil {
		h.logger.Error("Batch validation failed", zap.Int("posts", len(req.Posts)), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}

// GetConfig returns the published grading configuration
func (h *ValidationHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.validationService.GetValidatorInfo(),
	})
}
