package api

import (
	"github.com/gin-gonic/gin"

	"github.com/rin/mnemo/internal/api/handler"
	"github.com/rin/mnemo/internal/api/middleware"
	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/service"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	pipeline *service.CreationPipeline,
	memory *service.MemoryService,
	expansion *service.PromptExpansionService,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	// Set Gin mode
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(expansion, &cfg.Generation)
	creationHandler := handler.NewCreationHandler(pipeline, memory)
	memoryHandler := handler.NewMemoryHandler(memory)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Creations
		v1.POST("/creations", creationHandler.Create)
		v1.GET("/creations", creationHandler.List)
		v1.GET("/creations/:id", creationHandler.Get)

		// Memory recall
		v1.POST("/memory/search", memoryHandler.Search)
		v1.GET("/memory/stats", memoryHandler.Stats)
	}

	return r
}
