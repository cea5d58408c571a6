package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/service"
)

// MemoryHandler handles memory recall endpoints.
type MemoryHandler struct {
	memory *service.MemoryService
}

// NewMemoryHandler creates a new memory handler.
// Parameters:
//   - memory: memory service instance.
// Returns:
//   - *MemoryHandler: initialized handler.
func NewMemoryHandler(memory *service.MemoryService) *MemoryHandler {
	return &MemoryHandler{
		memory: memory,
	}
}

// MemorySearchRequest represents the memory search API request. TopK and
// Threshold fall back to the configured defaults when zero.
type MemorySearchRequest struct {
	Query     string  `json:"query" binding:"required"`
	TopK      int     `json:"top_k"`
	Threshold float32 `json:"threshold"`
}

// Search handles POST /api/v1/memory/search.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemoryHandler) Search(c *gin.Context) {
	var req MemorySearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Query must not be blank",
		})
		return
	}

	matches, err := h.memory.Search(c.Request.Context(), req.Query, req.TopK, req.Threshold)
	if err != nil {
		if errors.Is(err, domain.ErrEmbeddingUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Embedding provider unavailable",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Search failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": matches,
		"total":   len(matches),
	})
}

// Stats handles GET /api/v1/memory/stats.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *MemoryHandler) Stats(c *gin.Context) {
	stats, err := h.memory.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get stats: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
