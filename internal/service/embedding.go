package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/dgraph-io/ristretto"
	"github.com/go-resty/resty/v2"

	"github.com/rin/mnemo/internal/config"
	"github.com/rin/mnemo/internal/domain"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"

	embeddingTimeout = 30 * time.Second
)

// EmbeddingProvider is the embedding capability consumed by memory and
// pipeline code. Implementations must be deterministic: the same text yields
// the same vector for the lifetime of the process.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	Dimensions() int
	GetModel() string
}

// EmbeddingService turns text into fixed-dimension vectors. The same text
// always yields the same vector, so embeddings are safe to cache and replay.
//
// Two providers are supported: "local", a hash-seeded deterministic embedder
// that needs no network, and "jina", a remote embeddings API. A failed remote
// call surfaces domain.ErrEmbeddingUnavailable; there is no keyword fallback.
type EmbeddingService struct {
	provider   string
	model      string
	dimensions int
	client     *resty.Client
	cache      *ristretto.Cache
}

// NewEmbeddingService creates a new embedding service.
// Parameters:
//   - cfg: embedding configuration (provider, model, dimensions, cache).
// Returns:
//   - *EmbeddingService: initialized service.
//   - error: non-nil if the configuration is invalid or the cache fails.
func NewEmbeddingService(cfg *config.EmbeddingConfig) (*EmbeddingService, error) {
	cfg.ResolveEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &EmbeddingService{
		provider:   cfg.Provider,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}

	if cfg.Provider != "local" {
		client := resty.New()
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
		client.SetHeader("Content-Type", "application/json")
		client.SetTimeout(embeddingTimeout)
		if cfg.BaseURL != "" {
			client.SetBaseURL(cfg.BaseURL)
		}
		s.client = client
	}

	if cfg.Cache.Enabled {
		maxEntries := cfg.Cache.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 4096
		}
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: maxEntries * 10,
			MaxCost:     maxEntries,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// Dimensions returns the embedding vector size
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// Embed generates an embedding for a document text.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - text: text to embed.
// Returns:
//   - []float32: unit-length vector of the configured dimension.
//   - error: wraps domain.ErrEmbeddingUnavailable if the provider fails.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, "retrieval.passage")
}

// EmbedQuery generates an embedding optimized for query/search.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - query: query text to embed.
// Returns:
//   - []float32: unit-length vector of the configured dimension.
//   - error: wraps domain.ErrEmbeddingUnavailable if the provider fails.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return s.embed(ctx, query, "retrieval.query")
}

func (s *EmbeddingService) embed(ctx context.Context, text, task string) ([]float32, error) {
	cacheKey := s.provider + "\x00" + s.model + "\x00" + task + "\x00" + text
	if s.cache != nil {
		if v, ok := s.cache.Get(cacheKey); ok {
			if vec, ok := v.([]float32); ok {
				return vec, nil
			}
		}
	}

	var vec []float32
	var err error
	switch s.provider {
	case "local":
		vec = s.localEmbed(text)
	default:
		vec, err = s.remoteEmbed(ctx, text, task)
		if err != nil {
			return nil, err
		}
	}

	if s.cache != nil {
		s.cache.Set(cacheKey, vec, 1)
	}
	return vec, nil
}

// localEmbed builds a deterministic bag-of-tokens vector: each token hashes
// to a pseudo-random direction and the directions are summed and normalized.
// Texts sharing tokens share components, so cosine similarity tracks lexical
// overlap while identical texts always score 1.0.
func (s *EmbeddingService) localEmbed(text string) []float32 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}

	vec := make([]float32, s.dimensions)
	for _, token := range tokens {
		addTokenVector(vec, token)
	}
	return normalizeVector(vec)
}

// addTokenVector accumulates the token's hash-seeded direction into vec.
func addTokenVector(vec []float32, token string) {
	h := fnv.New64a()
	h.Write([]byte(token))
	seed := h.Sum64()

	for i := range vec {
		// Linear congruential step; constants from Knuth's MMIX generator
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] += float32(int64(seed)) / float32(math.MaxInt64)
	}
}

// normalizeVector scales vec to unit length in place.
func normalizeVector(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// tokenize lowercases and splits on any non-letter/non-digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isTokenRune(r)
	})
}

func isTokenRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Jina API request/response structures
type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

func (s *EmbeddingService) remoteEmbed(ctx context.Context, text, task string) ([]float32, error) {
	req := jinaRequest{
		Model:         s.model,
		Task:          task,
		Dimensions:    s.dimensions,
		Input:         []string{text},
		EmbeddingType: "float",
	}

	endpoint := jinaEndpoint
	if s.client.BaseURL != "" {
		endpoint = "/v1/embeddings"
	}

	var resp jinaResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(endpoint)

	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %v: %w", err, domain.ErrEmbeddingUnavailable)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("embedding API error: %s: %w", resp.Detail, domain.ErrEmbeddingUnavailable)
		}
		return nil, fmt.Errorf("embedding API error: status %d: %w", httpResp.StatusCode(), domain.ErrEmbeddingUnavailable)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned: %w", domain.ErrEmbeddingUnavailable)
	}

	return resp.Data[0].Embedding, nil
}
