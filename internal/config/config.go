// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.postkb/config.yaml)
//  3. Default values
//
// Sensitive data (passwords, API keys) is never logged.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidSimilarityThreshold indicates the chunker threshold is out of range.
	ErrInvalidSimilarityThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidEmbedderModel indicates the embedder model name is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedder vector dimension is invalid.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidIdentifier indicates a schema or table name is not a valid SQL identifier.
	ErrInvalidIdentifier = errors.New("invalid SQL identifier")

	// ErrInvalidPostsURL indicates the posts API URL is invalid.
	ErrInvalidPostsURL = errors.New("invalid posts URL")

	// ErrInvalidWorkers indicates the ingest worker count is out of range.
	ErrInvalidWorkers = errors.New("invalid ingest worker count")

	// ErrNoFilterKeys indicates no filter keys are configured.
	ErrNoFilterKeys = errors.New("no filter keys configured")
)

const (
	// DefaultEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 supports truncation to a fixed output
	// dimensionality; the pgvector schema is created with EmbedderDimension.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultEmbedderDimension matches the vector(N) column in db/migrations.
	DefaultEmbedderDimension = 1536

	// DefaultSimilarityThreshold is the semantic chunker merge threshold.
	DefaultSimilarityThreshold = 0.3

	// DefaultPostsURL is the public content API the fetcher pulls from.
	DefaultPostsURL = "https://dummyjson.com/posts"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in LogValue().
type Config struct {
	// AI model configuration
	ModelName     string `mapstructure:"model_name" json:"model_name"` // completion model, e.g. "googleai/gemini-2.5-flash"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDim   int    `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Ingestion configuration
	PostsURL            string  `mapstructure:"posts_url" json:"posts_url"`
	OutputDir           string  `mapstructure:"output_dir" json:"output_dir"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" json:"similarity_threshold"`
	IngestWorkers       int     `mapstructure:"ingest_workers" json:"ingest_workers"`
	EmbedRateLimit      float64 `mapstructure:"embed_rate_limit" json:"embed_rate_limit"` // embeddings per second, 0 = unlimited

	// Knowledge store configuration
	Schema     string   `mapstructure:"schema" json:"schema"`
	TableName  string   `mapstructure:"table_name" json:"table_name"`
	FilterKeys []string `mapstructure:"filter_keys" json:"filter_keys"`
	TopK       int      `mapstructure:"top_k" json:"top_k"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".postkb")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	// Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("model_name", "googleai/gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	// Ingestion defaults
	viper.SetDefault("posts_url", DefaultPostsURL)
	viper.SetDefault("output_dir", "knowledge/files")
	viper.SetDefault("similarity_threshold", DefaultSimilarityThreshold)
	viper.SetDefault("ingest_workers", 4)
	viper.SetDefault("embed_rate_limit", 0)

	// Knowledge store defaults (fixed logical namespace per deployment)
	viper.SetDefault("schema", "rag_demo")
	viper.SetDefault("table_name", "posts")
	viper.SetDefault("filter_keys", []string{"user_id"})
	viper.SetDefault("top_k", 5)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "postkb")
	viper.SetDefault("postgres_password", "postkb_dev_password")
	viper.SetDefault("postgres_db_name", "postkb")
	viper.SetDefault("postgres_ssl_mode", "disable")
}

// bindEnvVariables binds environment variable overrides explicitly.
//
// GEMINI_API_KEY is read directly by Genkit, not via Viper; its presence
// is checked at command startup.
func bindEnvVariables() {
	// Hardcoded keys can't fail to bind; a failure here is a bug.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "POSTKB_MODEL_NAME")
	mustBind("embedder_model", "POSTKB_EMBEDDER_MODEL")
	mustBind("posts_url", "POSTKB_POSTS_URL")
	mustBind("output_dir", "POSTKB_OUTPUT_DIR")

	// NOTE: DATABASE_URL is parsed separately in parseDatabaseURL with
	// highest priority for all postgres_* settings.
}

// LogValue implements slog.LogValuer, masking sensitive fields.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model_name", c.ModelName),
		slog.String("embedder_model", c.EmbedderModel),
		slog.Int("embedder_dimension", c.EmbedderDim),
		slog.String("posts_url", c.PostsURL),
		slog.String("output_dir", c.OutputDir),
		slog.Float64("similarity_threshold", c.SimilarityThreshold),
		slog.String("schema", c.Schema),
		slog.String("table_name", c.TableName),
		slog.String("postgres_host", c.PostgresHost),
		slog.Int("postgres_port", c.PostgresPort),
		slog.String("postgres_user", c.PostgresUser),
		slog.String("postgres_password", "████████"),
		slog.String("postgres_db_name", c.PostgresDBName),
	)
}
