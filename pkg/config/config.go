package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for strata-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3680"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Substrate database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Relational mirror kept consistent by the sync reconciler
	Mirror MirrorConfig `yaml:"mirror"`

	// Retrieval configuration
	Search SearchConfig `yaml:"search"`

	// Graph analytics configuration
	Graph GraphConfig `yaml:"graph"`

	// Sync reconciler configuration
	Sync SyncConfig `yaml:"sync"`
}

// DatabaseConfig holds PostgreSQL substrate database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"strata"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"strata_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// MirrorConfig holds connection settings for the relational mirror.
// Type selects the row adapter: "postgres" or "mssql".
type MirrorConfig struct {
	Type     string `yaml:"type" env:"MIRROR_TYPE" env-default:"postgres"`
	Host     string `yaml:"host" env:"MIRROR_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"MIRROR_PORT" env-default:"5433"`
	User     string `yaml:"user" env:"MIRROR_USER" env-default:"strata"`
	Password string `yaml:"-" env:"MIRROR_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"MIRROR_DATABASE" env-default:"strata_mirror"`
	Table    string `yaml:"table" env:"MIRROR_TABLE" env-default:"knowledge_entities"`
}

// SearchConfig holds retrieval engine settings.
type SearchConfig struct {
	// EmbeddingDimension is enforced on every stored and queried vector.
	// Mismatched dimensions are rejected, never truncated.
	EmbeddingDimension int `yaml:"embedding_dimension" env:"SEARCH_EMBEDDING_DIMENSION" env-default:"1536"`

	// Default hybrid weights; callers may override per query.
	VectorWeight float64 `yaml:"vector_weight" env:"SEARCH_VECTOR_WEIGHT" env-default:"0.7"`
	TextWeight   float64 `yaml:"text_weight" env:"SEARCH_TEXT_WEIGHT" env-default:"0.3"`

	// OpenAI embedding provider settings. The API key is optional; without it
	// the engine runs with externally supplied vectors only.
	OpenAIKey      string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	EmbeddingModel string `yaml:"embedding_model" env:"SEARCH_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
}

// GraphConfig holds graph analytics settings.
type GraphConfig struct {
	// Engine selects the analytics implementation: "native" (PageRank/Louvain
	// style), "fallback" (degree counts / connected components), or "auto" to
	// probe at startup.
	Engine string `yaml:"engine" env:"GRAPH_ENGINE" env-default:"auto"`

	// Timeout bounds any single analytics computation.
	Timeout time.Duration `yaml:"timeout" env:"GRAPH_TIMEOUT" env-default:"30s"`

	// PageRankIterations caps power iteration when the native engine runs.
	PageRankIterations int `yaml:"pagerank_iterations" env:"GRAPH_PAGERANK_ITERATIONS" env-default:"50"`

	// PageRankDamping is the standard damping factor.
	PageRankDamping float64 `yaml:"pagerank_damping" env:"GRAPH_PAGERANK_DAMPING" env-default:"0.85"`

	// RecomputeInterval is the pause between background analytics refreshes.
	// Zero recomputes once at startup and never again.
	RecomputeInterval time.Duration `yaml:"recompute_interval" env:"GRAPH_RECOMPUTE_INTERVAL" env-default:"15m"`
}

// SyncConfig holds sync reconciler settings.
type SyncConfig struct {
	// BatchSize caps how many changed rows one pass pulls per direction.
	BatchSize int `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"500"`

	// Interval is the pause between reconciliation passes per direction.
	// Zero runs a single pass at startup and never again.
	Interval time.Duration `yaml:"interval" env:"SYNC_INTERVAL" env-default:"1m"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from an explicit path. Used by tests.
func LoadFromFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Search.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", c.Search.EmbeddingDimension)
	}
	if c.Search.VectorWeight < 0 || c.Search.TextWeight < 0 {
		return fmt.Errorf("hybrid weights must be non-negative")
	}
	switch c.Mirror.Type {
	case "postgres", "mssql":
	default:
		return fmt.Errorf("unsupported mirror type %q", c.Mirror.Type)
	}
	switch c.Graph.Engine {
	case "auto", "native", "fallback":
	default:
		return fmt.Errorf("unsupported graph engine %q", c.Graph.Engine)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("sync interval must not be negative, got %s", c.Sync.Interval)
	}
	if c.Graph.RecomputeInterval < 0 {
		return fmt.Errorf("graph recompute_interval must not be negative, got %s", c.Graph.RecomputeInterval)
	}
	return nil
}
