package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
	"github.com/rin/mnemo/internal/logger"
	"github.com/rin/mnemo/internal/repository"
)

// stubStore is an in-memory CreationStore used to exercise the memory
// service without a database.
type stubStore struct {
	mu          sync.Mutex
	rows        map[string]domain.Creation
	failCreate  error
	createCalls int
}

func newStubStore() *stubStore {
	return &stubStore{rows: make(map[string]domain.Creation)}
}

func (s *stubStore) Create(ctx context.Context, creation *domain.Creation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.failCreate != nil {
		return s.failCreate
	}
	s.rows[creation.ID] = *creation
	return nil
}

func (s *stubStore) CreateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *stubStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *stubStore) GetByID(ctx context.Context, id string) (*domain.Creation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &row, nil
}

func (s *stubStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Creation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Creation, 0, len(ids))
	for _, id := range ids {
		if row, ok := s.rows[id]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *stubStore) Recent(ctx context.Context, limit int) ([]domain.Creation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Creation, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *stubStore) AllTags(ctx context.Context) ([]domain.StringArray, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.StringArray, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row.Tags)
	}
	return out, nil
}

func (s *stubStore) DateRange(ctx context.Context) (time.Time, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first, last time.Time
	for _, row := range s.rows {
		if first.IsZero() || row.CreatedAt.Before(first) {
			first = row.CreatedAt
		}
		if row.CreatedAt.After(last) {
			last = row.CreatedAt
		}
	}
	return first, last, nil
}

func newTestMemory(t *testing.T, cfg *config.MemoryConfig) (*MemoryService, *stubStore) {
	t.Helper()
	index, err := repository.NewChromemIndex(&config.ChromemConfig{Collection: "test"})
	if err != nil {
		t.Fatalf("failed to create chromem index: %v", err)
	}
	store := newStubStore()
	svc := NewMemoryService(store, index, newTestEmbedder(t), logger.GetDefault(), cfg)
	return svc, store
}

// ownEmbedding computes the exact vector Put stored for a creation.
func ownEmbedding(t *testing.T, svc *MemoryService, creation *domain.Creation) []float32 {
	t.Helper()
	text := buildEmbeddingText(creation.Prompt, creation.EnrichedPrompt, creation.Analysis, creation.Tags)
	vec, err := svc.embedding.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("failed to embed: %v", err)
	}
	return vec
}

func TestMemoryService_ReadAfterWrite(t *testing.T) {
	svc, _ := newTestMemory(t, nil)
	ctx := context.Background()

	creation := &domain.Creation{ID: "r1", Prompt: "a steampunk robot playing violin"}
	if err := svc.Put(ctx, creation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := svc.Query(ctx, ownEmbedding(t, svc, creation), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ID != "r1" {
		t.Errorf("expected match r1, got %s", matches[0].ID)
	}
	if matches[0].Score < 0.99 {
		t.Errorf("expected score ~1.0 for the record's own embedding, got %f", matches[0].Score)
	}
	if matches[0].Prompt != creation.Prompt {
		t.Errorf("expected enriched row, got %+v", matches[0].Creation)
	}
}

func TestMemoryService_EmptyStore(t *testing.T) {
	svc, _ := newTestMemory(t, nil)

	vec, err := svc.embedding.EmbedQuery(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches, err := svc.Query(context.Background(), vec, 5)
	if err != nil {
		t.Fatalf("expected no error on empty store, got %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches, got %d", len(matches))
	}
}

func TestMemoryService_ThresholdFiltersUnrelated(t *testing.T) {
	svc, _ := newTestMemory(t, nil)
	ctx := context.Background()

	if err := svc.Put(ctx, &domain.Creation{ID: "r1", Prompt: "a steampunk robot playing violin"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := svc.Search(ctx, "underwater coral reef at dawn", 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected unrelated query to fall below threshold, got %d matches", len(matches))
	}
}

func TestMemoryService_LimitAndOrdering(t *testing.T) {
	svc, _ := newTestMemory(t, &config.MemoryConfig{TopK: 5, ScoreThreshold: 0.1})
	ctx := context.Background()

	near := &domain.Creation{ID: "near", Prompt: "a steampunk robot playing violin"}
	far := &domain.Creation{ID: "far", Prompt: "a steampunk castle at night"}
	if err := svc.Put(ctx, near); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Put(ctx, far); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	matches, err := svc.Query(ctx, ownEmbedding(t, svc, near), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) < 1 || matches[0].ID != "near" {
		t.Fatalf("expected nearest match first, got %+v", matches)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("expected scores in descending order, got %f after %f",
				matches[i].Score, matches[i-1].Score)
		}
	}

	// The limit caps results even when more records clear the threshold.
	limited, err := svc.Query(ctx, ownEmbedding(t, svc, near), 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected exactly 1 match, got %d", len(limited))
	}
}

func TestMemoryService_RecencyTieBreak(t *testing.T) {
	svc, _ := newTestMemory(t, nil)
	ctx := context.Background()

	// Identical prompts embed identically, so all three tie on score.
	ids := []string{"old", "mid", "new"}
	for _, id := range ids {
		if err := svc.Put(ctx, &domain.Creation{ID: id, Prompt: "a crystal castle at night"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ref := &domain.Creation{ID: "new", Prompt: "a crystal castle at night"}
	ref.Tags = domain.StringArray(extractTags(ref.Prompt))
	matches, err := svc.Query(ctx, ownEmbedding(t, svc, ref), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}

	got := []string{matches[0].ID, matches[1].ID, matches[2].ID}
	want := []string{"new", "mid", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected newest-first order %v, got %v", want, got)
		}
	}
}

func TestMemoryService_PutRollsBackVectorOnRowFailure(t *testing.T) {
	svc, store := newTestMemory(t, nil)
	ctx := context.Background()

	store.failCreate = errors.New("db down")
	creation := &domain.Creation{ID: "r1", Prompt: "a steampunk robot playing violin"}

	err := svc.Put(ctx, creation)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("expected ErrPersistence, got %v", err)
	}

	// Nothing may survive the failed write: no row, no vector.
	store.failCreate = nil
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("expected empty store, got %d rows", n)
	}
	matches, err := svc.Query(ctx, ownEmbedding(t, svc, creation), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected vector to be rolled back, got %d matches", len(matches))
	}
}

func TestMemoryService_PutValidation(t *testing.T) {
	svc, _ := newTestMemory(t, nil)

	tests := []struct {
		name     string
		creation *domain.Creation
	}{
		{name: "nil creation", creation: nil},
		{name: "missing id", creation: &domain.Creation{Prompt: "a robot"}},
		{name: "blank prompt", creation: &domain.Creation{ID: "r1", Prompt: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Put(context.Background(), tt.creation)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, domain.ErrPersistence) {
				t.Errorf("expected ErrPersistence, got %v", err)
			}
		})
	}
}

func TestMemoryService_MonotonicTimestamps(t *testing.T) {
	svc, _ := newTestMemory(t, nil)
	ctx := context.Background()

	var prev time.Time
	for i, id := range []string{"a", "b", "c", "d"} {
		creation := &domain.Creation{ID: id, Prompt: "a glowing gem"}
		if err := svc.Put(ctx, creation); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if i > 0 && !creation.CreatedAt.After(prev) {
			t.Errorf("expected strictly increasing timestamps, got %v then %v", prev, creation.CreatedAt)
		}
		prev = creation.CreatedAt
	}
}

func TestMemoryService_PutFillsTags(t *testing.T) {
	svc, store := newTestMemory(t, nil)
	ctx := context.Background()

	creation := &domain.Creation{ID: "r1", Prompt: "a steampunk robot playing violin"}
	if err := svc.Put(ctx, creation); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := store.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]bool{"robot": false, "steampunk": false, "sci-fi": false}
	for _, tag := range row.Tags {
		if _, ok := want[tag]; ok {
			want[tag] = true
		}
	}
	for tag, seen := range want {
		if !seen {
			t.Errorf("expected tag %q in %v", tag, row.Tags)
		}
	}
}

func TestMemoryService_Stats(t *testing.T) {
	svc, _ := newTestMemory(t, nil)
	ctx := context.Background()

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total := stats["total_creations"].(int64); total != 0 {
		t.Errorf("expected 0 creations, got %d", total)
	}
	if _, ok := stats["date_range"]; ok {
		t.Error("expected no date_range for empty store")
	}

	if err := svc.Put(ctx, &domain.Creation{ID: "r1", Prompt: "a steampunk robot playing violin"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Put(ctx, &domain.Creation{ID: "r2", Prompt: "a crystal castle at night"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err = svc.Stats(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total := stats["total_creations"].(int64); total != 2 {
		t.Errorf("expected 2 creations, got %d", total)
	}
	if unique := stats["unique_tags"].(int); unique == 0 {
		t.Error("expected unique tags to be counted")
	}
	if _, ok := stats["top_tags"]; !ok {
		t.Error("expected top_tags to be present")
	}
	if _, ok := stats["date_range"]; !ok {
		t.Error("expected date_range to be present")
	}
}
