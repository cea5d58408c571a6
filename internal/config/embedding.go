package config

import (
	"fmt"
	"os"
)

// EmbeddingConfig defines configuration for the embedding provider.
type EmbeddingConfig struct {
	Provider   string               `mapstructure:"provider"`     // Provider type: "local", "jina", "openai-compatible"
	Model      string               `mapstructure:"model"`        // Model name/ID
	APIKey     string               `mapstructure:"api_key"`      // API key (can be set directly or via env var)
	APIKeyEnv  string               `mapstructure:"api_key_env"`  // Environment variable name for API key
	BaseURL    string               `mapstructure:"base_url"`     // Base URL for OpenAI-compatible APIs
	BaseURLEnv string               `mapstructure:"base_url_env"` // Environment variable name for base URL
	Dimensions int                  `mapstructure:"dimensions"`   // Embedding vector dimensions
	Cache      EmbeddingCacheConfig `mapstructure:"cache"`
}

// EmbeddingCacheConfig controls the in-process embedding cache.
type EmbeddingCacheConfig struct {
	Enabled    bool  `mapstructure:"enabled"`
	MaxEntries int64 `mapstructure:"max_entries"`
}

// ResolveEnvVars resolves environment variable references in the configuration.
// If APIKeyEnv or BaseURLEnv are set, their values are loaded from environment.
// Direct values (APIKey, BaseURL) take precedence if already set.
func (c *EmbeddingConfig) ResolveEnvVars() {
	// Resolve API key from environment variable if specified
	if c.APIKeyEnv != "" && c.APIKey == "" {
		if val := os.Getenv(c.APIKeyEnv); val != "" {
			c.APIKey = val
		}
	}

	// Resolve base URL from environment variable if specified
	if c.BaseURLEnv != "" && c.BaseURL == "" {
		if val := os.Getenv(c.BaseURLEnv); val != "" {
			c.BaseURL = val
		}
	}
}

// Validate checks that the embedding configuration has all required fields.
// Returns an error describing the first validation failure, or nil if valid.
func (c *EmbeddingConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("embedding: provider is required")
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("embedding %q: dimensions must be positive", c.Provider)
	}

	switch c.Provider {
	case "local":
		// No remote credentials needed
	case "jina", "openai-compatible":
		if c.Model == "" {
			return fmt.Errorf("embedding %q: model is required", c.Provider)
		}
		if c.APIKey == "" {
			return fmt.Errorf("embedding %q: api_key is required (set directly or via %s)", c.Provider, c.APIKeyEnv)
		}
	default:
		return fmt.Errorf("embedding: unknown provider %q", c.Provider)
	}

	return nil
}
