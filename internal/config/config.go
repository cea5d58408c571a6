package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rin/mnemo/internal/storage"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Vector     VectorConfig     `mapstructure:"vector"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Generation GenerationConfig `mapstructure:"generation"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Memory     MemoryConfig     `mapstructure:"memory"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds the driver-specific connection string.
// Parameters: none.
// Returns:
//   - string: connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
	default:
		return c.Path
	}
}

type VectorConfig struct {
	Backend   string        `mapstructure:"backend"`
	Dimension int           `mapstructure:"dimension"`
	Qdrant    QdrantConfig  `mapstructure:"qdrant"`
	Chromem   ChromemConfig `mapstructure:"chromem"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type ChromemConfig struct {
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
}

type LLMConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type GenerationConfig struct {
	Image   ImageGenConfig `mapstructure:"image"`
	Model3D ModelGenConfig `mapstructure:"model3d"`
}

type ImageGenConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type ModelGenConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	LocalPath string `mapstructure:"local_path"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

type MemoryConfig struct {
	TopK           int     `mapstructure:"top_k"`
	ScoreThreshold float32 `mapstructure:"score_threshold"`
	ContextLimit   int     `mapstructure:"context_limit"`
}

// GetStorageConfig converts the storage section into the storage package's
// configuration structure.
// Parameters: none.
// Returns:
//   - *storage.Config: configuration consumable by storage.NewStorage.
func (c *Config) GetStorageConfig() *storage.Config {
	return &storage.Config{
		Type:      storage.StorageType(c.Storage.Type),
		LocalPath: c.Storage.LocalPath,
		Endpoint:  c.Storage.Endpoint,
		AccessKey: c.Storage.AccessKey,
		SecretKey: c.Storage.SecretKey,
		UseSSL:    c.Storage.UseSSL,
		Bucket:    c.Storage.Bucket,
		Region:    c.Storage.Region,
		PublicURL: c.Storage.PublicURL,
	}
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/mnemo.db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("vector.backend", "chromem")
	v.SetDefault("vector.dimension", 384)
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.collection", "creations")
	v.SetDefault("vector.chromem.path", "./data/chromem")
	v.SetDefault("vector.chromem.collection", "creations")
	v.SetDefault("embedding.provider", "local")
	v.SetDefault("embedding.model", "hash-sim-256")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.cache.enabled", true)
	v.SetDefault("embedding.cache.max_entries", 4096)
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "deepseek-r1:1.5b")
	v.SetDefault("llm.base_url", "http://localhost:11434/v1")
	v.SetDefault("generation.image.base_url", "http://localhost:8188")
	v.SetDefault("generation.image.timeout_seconds", 120)
	v.SetDefault("generation.model3d.base_url", "http://localhost:8189")
	v.SetDefault("generation.model3d.timeout_seconds", 300)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", ".")
	v.SetDefault("storage.bucket", "creations")
	v.SetDefault("memory.top_k", 5)
	v.SetDefault("memory.score_threshold", 0.5)
	v.SetDefault("memory.context_limit", 3)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("vector.qdrant.host", "QDRANT_HOST")
	v.BindEnv("vector.qdrant.port", "QDRANT_PORT")
	v.BindEnv("vector.qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("llm.api_key", "LLM_API_KEY")
	v.BindEnv("llm.base_url", "LLM_BASE_URL")
	v.BindEnv("llm.model", "LLM_MODEL")
	v.BindEnv("generation.image.api_key", "IMAGE_API_KEY")
	v.BindEnv("generation.image.base_url", "IMAGE_BASE_URL")
	v.BindEnv("generation.model3d.api_key", "MODEL3D_API_KEY")
	v.BindEnv("generation.model3d.base_url", "MODEL3D_BASE_URL")
	v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
