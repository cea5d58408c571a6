package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rin/mnemo/internal/api"
	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/repository"
	"github.com/rin/mnemo/internal/service"
	"github.com/rin/mnemo/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logg := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(logg)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		logg.WithError(err).Fatal("Failed to initialize database")
	}
	store := repository.NewCreationRepository(db)

	// Initialize vector index
	index, err := repository.NewVectorIndex(&cfg.Vector)
	if err != nil {
		logg.WithError(err).Fatal("Failed to initialize vector index")
	}
	defer index.Close()

	ctx := context.Background()
	if err := index.EnsureReady(ctx); err != nil {
		logg.WithError(err).Fatal("Failed to prepare vector index")
	}

	// Initialize storage (supports local, MinIO, R2, S3)
	objectStorage, err := storage.NewStorage(cfg.GetStorageConfig())
	if err != nil {
		logg.WithError(err).Fatal("Failed to initialize storage")
	}

	// Ensure bucket exists on backends that have one
	if be, ok := objectStorage.(interface {
		EnsureBucket(ctx context.Context) error
	}); ok {
		if err := be.EnsureBucket(ctx); err != nil {
			logg.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Initialize services
	embedder, err := service.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		logg.WithError(err).Fatal("Failed to initialize embedding service")
	}

	memory := service.NewMemoryService(store, index, embedder, logg, &cfg.Memory)
	expansion := service.NewPromptExpansionService(&cfg.LLM, logg)
	if expansion.IsEnabled() {
		logg.WithFields(logger.Fields{"model": cfg.LLM.Model}).Info("Prompt expansion enabled")
	}

	gateway := service.NewGenerationGateway(&cfg.Generation, objectStorage, logg)
	composer := service.NewContextComposer(cfg.Memory.ContextLimit)
	pipeline := service.NewCreationPipeline(memory, composer, expansion, gateway, logg)

	// Setup router
	router := api.SetupRouter(pipeline, memory, expansion, cfg, logg)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		logg.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.WithError(err).Fatal("Server forced to shutdown")
	}

	logg.Info("Server exited")
}
