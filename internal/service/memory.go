package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/repository"
)

const (
	defaultTopK           = 5
	defaultScoreThreshold = 0.5
	topTagsLimit          = 10
)

// CreationStore is the relational persistence consumed by the memory
// service. It is implemented by repository.CreationRepository.
type CreationStore interface {
	Create(ctx context.Context, creation *domain.Creation) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*domain.Creation, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.Creation, error)
	Recent(ctx context.Context, limit int) ([]domain.Creation, error)
	Count(ctx context.Context) (int64, error)
	AllTags(ctx context.Context) ([]domain.StringArray, error)
	DateRange(ctx context.Context) (time.Time, time.Time, error)
}

// MemoryService stores creations and retrieves the ones most similar to a
// prompt. Rows live in the relational store, vectors in the vector index;
// Put keeps the two in step so a stored creation is immediately queryable.
type MemoryService struct {
	store     CreationStore
	index     repository.VectorIndex
	embedding EmbeddingProvider
	logger    *logger.Logger

	topK           int
	scoreThreshold float32

	// Guards timestamp monotonicity across concurrent Puts.
	mu            sync.Mutex
	lastCreatedAt time.Time
}

// NewMemoryService creates a new memory service.
// Parameters:
//   - store: creation row persistence.
//   - index: vector index for similarity search.
//   - embedding: embedding provider for texts and queries.
//   - log: logger instance.
//   - cfg: retrieval settings (top-k, score threshold).
//
// Returns:
//   - *MemoryService: initialized memory service.
func NewMemoryService(
	store CreationStore,
	index repository.VectorIndex,
	embedding EmbeddingProvider,
	log *logger.Logger,
	cfg *config.MemoryConfig,
) *MemoryService {
	topK := defaultTopK
	threshold := float32(defaultScoreThreshold)
	if cfg != nil {
		if cfg.TopK > 0 {
			topK = cfg.TopK
		}
		if cfg.ScoreThreshold > 0 {
			threshold = cfg.ScoreThreshold
		}
	}
	return &MemoryService{
		store:          store,
		index:          index,
		embedding:      embedding,
		logger:         log,
		topK:           topK,
		scoreThreshold: threshold,
	}
}

// log returns a logger from context if available, otherwise returns the default logger
func (s *MemoryService) log(ctx context.Context) *logger.Logger {
	if l := logger.FromContext(ctx); l != nil {
		return l
	}
	return s.logger
}

// nextCreatedAt returns a strictly increasing timestamp across all Puts in
// this process, so creation order is always recoverable from CreatedAt.
func (s *MemoryService) nextCreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(s.lastCreatedAt) {
		now = s.lastCreatedAt.Add(time.Nanosecond)
	}
	s.lastCreatedAt = now
	return now
}

// persistErr tags a write failure as a persistence error while keeping the
// cause matchable with errors.Is.
func persistErr(msg string, err error) error {
	return fmt.Errorf("%s: %w: %w", msg, err, domain.ErrPersistence)
}

// Put stores a creation atomically: after it returns nil the record is
// visible to Query; after an error nothing is persisted.
//
// The embedding is computed first (external call, nothing to roll back),
// then the vector is upserted with the wait flag, then the row is written.
// A failed row write rolls the vector back so the index never references a
// missing row.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - creation: record to store; CreatedAt and empty Tags are filled in.
//
// Returns:
//   - error: wraps domain.ErrPersistence on any failure.
func (s *MemoryService) Put(ctx context.Context, creation *domain.Creation) error {
	if creation == nil {
		return fmt.Errorf("creation is nil: %w", domain.ErrPersistence)
	}
	if creation.ID == "" || strings.TrimSpace(creation.Prompt) == "" {
		return fmt.Errorf("creation needs an ID and a prompt: %w", domain.ErrPersistence)
	}

	if len(creation.Tags) == 0 {
		creation.Tags = domain.StringArray(extractTags(creation.Prompt, creation.EnrichedPrompt, creation.Analysis))
	}
	creation.CreatedAt = s.nextCreatedAt()

	// Embedding is an external call; do it before any persistence.
	text := buildEmbeddingText(creation.Prompt, creation.EnrichedPrompt, creation.Analysis, creation.Tags)
	vector, err := s.embedding.Embed(ctx, text)
	if err != nil {
		return persistErr("failed to embed creation", err)
	}

	payload := repository.CreationPayload{
		Prompt:    creation.Prompt,
		Tags:      creation.Tags,
		CreatedAt: creation.CreatedAt.UnixNano(),
	}
	if err := s.index.Upsert(ctx, creation.ID, vector, payload); err != nil {
		return persistErr("failed to upsert vector", err)
	}

	if err := s.store.Create(ctx, creation); err != nil {
		// Rollback: remove the vector, even when the caller's context is
		// already canceled.
		rollbackCtx := context.WithoutCancel(ctx)
		if delErr := s.index.Delete(rollbackCtx, creation.ID); delErr != nil {
			s.log(ctx).WithFields(logger.Fields{
				logger.FieldCreationID: creation.ID,
			}).WithError(delErr).Error("Failed to rollback vector upsert")
		}
		return persistErr("failed to save creation", err)
	}

	s.log(ctx).WithFields(logger.Fields{
		logger.FieldCreationID: creation.ID,
		"tags":                 len(creation.Tags),
	}).Debug("Creation stored")
	return nil
}

// Query returns the stored creations most similar to the given embedding.
//
// At most k matches come back, all with score >= the configured threshold,
// sorted by score descending with ties broken by insertion recency (newer
// first). Querying an empty store returns an empty slice.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - embedding: query vector, same dimension as stored vectors.
//   - k: maximum matches; <= 0 uses the configured top-k.
//
// Returns:
//   - []domain.MemoryMatch: enriched matches, best first.
//   - error: non-nil when search or row loading fails.
func (s *MemoryService) Query(ctx context.Context, embedding []float32, k int) ([]domain.MemoryMatch, error) {
	if k <= 0 {
		k = s.topK
	}
	results, err := s.index.Search(ctx, embedding, k, s.scoreThreshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return s.enrich(ctx, results, k)
}

// Search embeds a text query and returns the most similar creations. It is
// the text-in counterpart of Query, used by the HTTP search endpoint.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: text to search for.
//   - k: maximum matches; <= 0 uses the configured top-k.
//   - threshold: minimum score; <= 0 uses the configured threshold.
//
// Returns:
//   - []domain.MemoryMatch: enriched matches, best first.
//   - error: non-nil when embedding, search, or row loading fails.
func (s *MemoryService) Search(ctx context.Context, query string, k int, threshold float32) ([]domain.MemoryMatch, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if k <= 0 {
		k = s.topK
	}
	if threshold <= 0 {
		threshold = s.scoreThreshold
	}

	vector, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := s.index.Search(ctx, vector, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return s.enrich(ctx, results, k)
}

// enrich resolves vector matches to full creation rows, dropping matches
// whose row is missing from the store.
func (s *MemoryService) enrich(ctx context.Context, results []repository.VectorMatch, k int) ([]domain.MemoryMatch, error) {
	if len(results) == 0 {
		return []domain.MemoryMatch{}, nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Payload.CreatedAt > results[j].Payload.CreatedAt
	})
	if len(results) > k {
		results = results[:k]
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	rows, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load creations: %w", err)
	}
	byID := make(map[string]domain.Creation, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	matches := make([]domain.MemoryMatch, 0, len(results))
	for _, r := range results {
		row, ok := byID[r.ID]
		if !ok {
			s.log(ctx).WithField(logger.FieldCreationID, r.ID).Warn("Vector match missing from store, skipping")
			continue
		}
		matches = append(matches, domain.MemoryMatch{Creation: row, Score: r.Score})
	}
	return matches, nil
}

// Get loads a single creation by ID.
func (s *MemoryService) Get(ctx context.Context, id string) (*domain.Creation, error) {
	return s.store.GetByID(ctx, id)
}

// Recent returns the newest creations, most recent first.
func (s *MemoryService) Recent(ctx context.Context, limit int) ([]domain.Creation, error) {
	return s.store.Recent(ctx, limit)
}

// Stats summarizes the memory contents: totals, the most common tags, and
// the covered date range.
//
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - map[string]interface{}: JSON-friendly stats.
//   - error: non-nil when a store query fails.
func (s *MemoryService) Stats(ctx context.Context) (map[string]interface{}, error) {
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count creations: %w", err)
	}

	tagLists, err := s.store.AllTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	freq := make(map[string]int)
	for _, list := range tagLists {
		for _, tag := range list {
			freq[tag]++
		}
	}

	type tagCount struct {
		Tag   string `json:"tag"`
		Count int    `json:"count"`
	}
	counts := make([]tagCount, 0, len(freq))
	for tag, count := range freq {
		counts = append(counts, tagCount{Tag: tag, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Tag < counts[j].Tag
	})
	if len(counts) > topTagsLimit {
		counts = counts[:topTagsLimit]
	}

	stats := map[string]interface{}{
		"total_creations": total,
		"unique_tags":     len(freq),
		"top_tags":        counts,
	}

	if total > 0 {
		first, last, err := s.store.DateRange(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load date range: %w", err)
		}
		stats["date_range"] = map[string]string{
			"first": first.UTC().Format(time.RFC3339),
			"last":  last.UTC().Format(time.RFC3339),
		}
	}

	return stats, nil
}
