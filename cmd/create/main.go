package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/repository"
	"github.com/rin/mnemo/internal/service"
	"github.com/rin/mnemo/internal/storage"
)

func main() {
	// Logs go to stderr so -json output stays pipeable
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		Output:      os.Stderr,
		ServiceName: "mnemo-create",
	})
	logger.SetDefaultLogger(appLogger)

	// Parse command line flags
	prompt := flag.String("prompt", "", "Prompt to run through the creation pipeline")
	configPath := flag.String("config", "", "Path to config file")
	asJSON := flag.Bool("json", false, "Print the resulting record as JSON")
	flag.Parse()

	if strings.TrimSpace(*prompt) == "" {
		fmt.Fprintln(os.Stderr, `usage: create -prompt "text" [-config path] [-json]`)
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	store := repository.NewCreationRepository(db)

	// Initialize vector index
	index, err := repository.NewVectorIndex(&cfg.Vector)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize vector index")
	}
	defer index.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := index.EnsureReady(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to prepare vector index")
	}

	// Initialize storage (supports local, MinIO, R2, S3)
	objectStorage, err := storage.NewStorage(cfg.GetStorageConfig())
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if be, ok := objectStorage.(interface {
		EnsureBucket(ctx context.Context) error
	}); ok {
		if err := be.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	// Initialize services
	embedder, err := service.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize embedding service")
	}

	memory := service.NewMemoryService(store, index, embedder, appLogger, &cfg.Memory)
	expansion := service.NewPromptExpansionService(&cfg.LLM, appLogger)
	gateway := service.NewGenerationGateway(&cfg.Generation, objectStorage, appLogger)
	composer := service.NewContextComposer(cfg.Memory.ContextLimit)
	pipeline := service.NewCreationPipeline(memory, composer, expansion, gateway, appLogger)

	// Cancel the run on Ctrl-C; the pipeline stops at the next stage boundary
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	creation, err := pipeline.Run(ctx, *prompt)
	if err != nil {
		var perr *domain.PipelineError
		if errors.As(err, &perr) {
			appLogger.WithError(perr.Err).WithField(logger.FieldStage, string(perr.Stage)).Fatal("Creation run failed")
		}
		appLogger.WithError(err).Fatal("Creation run failed")
	}

	if *asJSON {
		out, err := json.MarshalIndent(creation, "", "  ")
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to encode record")
		}
		fmt.Println(string(out))
		return
	}

	printCreation(creation)
}

func printCreation(c *domain.Creation) {
	fmt.Printf("Creation %s\n", c.ID)
	fmt.Printf("  Prompt:    %s\n", c.Prompt)
	if c.EnrichedPrompt != c.Prompt {
		fmt.Printf("  Enriched:  %s\n", c.EnrichedPrompt)
	}
	if c.Analysis != "" {
		fmt.Printf("  Analysis:  %s\n", c.Analysis)
	}
	if len(c.Tags) > 0 {
		fmt.Printf("  Tags:      %s\n", strings.Join(c.Tags, ", "))
	}
	if c.Detection.HasReference {
		fmt.Printf("  Reference: %s (%s confidence)\n", c.Detection.Category, c.Detection.Confidence)
		if len(c.SourceIDs) > 0 {
			fmt.Printf("  Sources:   %s\n", strings.Join(c.SourceIDs, ", "))
		}
	}
	fmt.Printf("  Image:     %s\n", c.ImageRef)
	fmt.Printf("  Model:     %s\n", c.ModelRef)
	fmt.Printf("  Created:   %s\n", c.CreatedAt.Format(time.RFC3339))
}
