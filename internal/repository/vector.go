package repository

import (
	"context"
	"fmt"

	"github.com/rin/mnemo/internal/config"
)

// CreationPayload is the metadata stored alongside each vector. It carries
// just enough to rank and debug matches without a database round trip; the
// full record always comes from the creations table.
type CreationPayload struct {
	Prompt    string
	Tags      []string
	CreatedAt int64 // unix nanoseconds, used for recency tie-breaks
}

// VectorMatch is one scored hit from a similarity search.
type VectorMatch struct {
	ID      string
	Score   float32
	Payload CreationPayload
}

// VectorIndex abstracts the similarity index behind the memory store.
// Implementations must make an upserted point visible to Search before
// Upsert returns.
type VectorIndex interface {
	// EnsureReady creates the backing collection if it doesn't exist
	EnsureReady(ctx context.Context) error

	// Upsert inserts or replaces a vector with its payload
	Upsert(ctx context.Context, id string, vector []float32, payload CreationPayload) error

	// Search returns up to limit matches with score >= minScore, best first
	Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]VectorMatch, error)

	// Delete removes a point by ID
	Delete(ctx context.Context, id string) error

	// Close releases the underlying connection, if any
	Close() error
}

// NewVectorIndex creates a VectorIndex instance based on the configuration.
// Parameters:
//   - cfg: vector configuration including backend selection and dimension.
// Returns:
//   - VectorIndex: initialized index implementation.
//   - error: non-nil if the backend cannot be created.
func NewVectorIndex(cfg *config.VectorConfig) (VectorIndex, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrantIndex(&cfg.Qdrant, cfg.Dimension)
	case "chromem", "":
		return NewChromemIndex(&cfg.Chromem)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}
