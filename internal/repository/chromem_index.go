package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rin/mnemo/internal/config"
)

// ChromemIndex implements VectorIndex on chromem-go, a pure Go embedded
// vector database. It needs no external service; AddDocument is synchronous,
// so a stored vector is searchable the moment Upsert returns.
type ChromemIndex struct {
	db   *chromem.DB
	coll *chromem.Collection
}

// NewChromemIndex creates a new ChromemIndex. An empty path selects a purely
// in-memory database; otherwise documents are persisted under the path.
func NewChromemIndex(cfg *config.ChromemConfig) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error

	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db: %w", err)
		}
	}

	name := cfg.Collection
	if name == "" {
		name = "creations"
	}

	// No embedding func: vectors always arrive precomputed
	coll, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	return &ChromemIndex{db: db, coll: coll}, nil
}

// EnsureReady is a no-op: the collection is created in the constructor.
func (r *ChromemIndex) EnsureReady(ctx context.Context) error {
	return nil
}

// Upsert inserts or replaces a document carrying the vector and payload.
func (r *ChromemIndex) Upsert(ctx context.Context, id string, vector []float32, payload CreationPayload) error {
	doc := chromem.Document{
		ID:        id,
		Content:   payload.Prompt,
		Embedding: vector,
		Metadata: map[string]string{
			"tags":       strings.Join(payload.Tags, ","),
			"created_at": strconv.FormatInt(payload.CreatedAt, 10),
		},
	}

	if err := r.coll.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Search performs a vector similarity search. chromem requires nResults to
// be at most the collection size, so the limit is clamped first.
func (r *ChromemIndex) Search(ctx context.Context, vector []float32, limit int, minScore float32) ([]VectorMatch, error) {
	if limit <= 0 {
		return []VectorMatch{}, nil
	}

	count := r.coll.Count()
	if count == 0 {
		return []VectorMatch{}, nil
	}
	if limit > count {
		limit = count
	}

	results, err := r.coll.QueryEmbedding(ctx, vector, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	matches := make([]VectorMatch, 0, len(results))
	for _, res := range results {
		if res.Similarity < minScore {
			continue
		}
		matches = append(matches, VectorMatch{
			ID:      res.ID,
			Score:   res.Similarity,
			Payload: payloadFromMetadata(res.Content, res.Metadata),
		})
	}

	return matches, nil
}

func payloadFromMetadata(content string, metadata map[string]string) CreationPayload {
	p := CreationPayload{Prompt: content}
	if metadata == nil {
		return p
	}
	if raw := metadata["tags"]; raw != "" {
		p.Tags = strings.Split(raw, ",")
	}
	if raw := metadata["created_at"]; raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			p.CreatedAt = ts
		}
	}
	return p
}

// Delete removes a document by ID.
func (r *ChromemIndex) Delete(ctx context.Context, id string) error {
	if err := r.coll.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Close releases resources. chromem keeps state in memory or flushes per
// write, so there is nothing to close.
func (r *ChromemIndex) Close() error {
	return nil
}
