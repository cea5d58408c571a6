package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/service"
)

// CreationHandler handles creation endpoints.
type CreationHandler struct {
	pipeline *service.CreationPipeline
	memory   *service.MemoryService
}

// NewCreationHandler creates a new creation handler.
// Parameters:
//   - pipeline: orchestrator that runs prompts end to end.
//   - memory: memory service used for lookups and listings.
// Returns:
//   - *CreationHandler: initialized handler.
func NewCreationHandler(pipeline *service.CreationPipeline, memory *service.MemoryService) *CreationHandler {
	return &CreationHandler{
		pipeline: pipeline,
		memory:   memory,
	}
}

// CreateRequest represents the creation API request.
type CreateRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// Create handles POST /api/v1/creations. The pipeline runs synchronously
// on the request context, so a client disconnect cancels the run between
// stages.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CreationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.CtxWarn(ctx, "Invalid creation request: client_ip=%s, error=%v", c.ClientIP(), err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Prompt must not be blank",
		})
		return
	}

	logger.CtxInfo(ctx, "Received creation request: client_ip=%s", c.ClientIP())

	start := time.Now()
	creation, err := h.pipeline.Run(ctx, req.Prompt)
	duration := time.Since(start)

	if err != nil {
		logger.With(logger.Fields{
			logger.FieldDurationMs: duration.Milliseconds(),
		}).Error(ctx, "Creation run failed: error=%v", err)

		// Embedding outages are matched first: they arrive wrapped in a
		// PipelineError but deserve a retryable status of their own.
		var perr *domain.PipelineError
		switch {
		case errors.Is(err, domain.ErrEmbeddingUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Embedding provider unavailable",
			})
		case errors.As(err, &perr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error": perr.Err.Error(),
				"stage": string(perr.Stage),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Creation failed: " + err.Error(),
			})
		}
		return
	}

	logger.With(logger.Fields{
		logger.FieldCreationID: creation.ID,
		logger.FieldDurationMs: duration.Milliseconds(),
	}).Info(ctx, "Creation run completed")

	c.JSON(http.StatusOK, creation)
}

// Get handles GET /api/v1/creations/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CreationHandler) Get(c *gin.Context) {
	id := c.Param("id")

	creation, err := h.memory.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Creation not found: " + id,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get creation: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, creation)
}

// List handles GET /api/v1/creations for recent records, newest first.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *CreationHandler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	creations, err := h.memory.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list creations: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"creations": creations,
		"total":     len(creations),
	})
}
