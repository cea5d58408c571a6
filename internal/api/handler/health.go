package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/service"
)

const (
	serviceName    = "mnemo"
	serviceVersion = "0.1.0"
)

// HealthHandler reports service liveness and dependency availability.
type HealthHandler struct {
	expansion *service.PromptExpansionService
	genCfg    *config.GenerationConfig
}

// NewHealthHandler creates a new health handler.
// Parameters:
//   - expansion: expansion service probed for LLM availability.
//   - genCfg: generation configuration, read for backend flags.
// Returns:
//   - *HealthHandler: initialized handler.
func NewHealthHandler(expansion *service.PromptExpansionService, genCfg *config.GenerationConfig) *HealthHandler {
	return &HealthHandler{
		expansion: expansion,
		genCfg:    genCfg,
	}
}

// Health returns the health status of the service. The LLM flag probes the
// configured endpoint; generation flags only report configuration since the
// backends expose no cheap liveness call.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"service":          serviceName,
		"version":          serviceVersion,
		"llm_available":    h.expansion.Available(c.Request.Context()),
		"image_generation": h.genCfg.Image.BaseURL != "",
		"model_generation": h.genCfg.Model3D.BaseURL != "",
	})
}
