package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yamlContent string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadFromFile_Defaults(t *testing.T) {
	path := writeConfig(t, `
env: "test"
database:
  host: "localhost"
mirror:
  host: "localhost"
`)

	// Clear env vars that might interfere with test
	os.Unsetenv("SEARCH_EMBEDDING_DIMENSION")
	os.Unsetenv("GRAPH_ENGINE")
	os.Unsetenv("SYNC_BATCH_SIZE")
	os.Unsetenv("MIRROR_TYPE")
	os.Unsetenv("SYNC_INTERVAL")
	os.Unsetenv("GRAPH_RECOMPUTE_INTERVAL")

	cfg, err := LoadFromFile(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.Search.EmbeddingDimension != 1536 {
		t.Errorf("expected default embedding dimension 1536, got %d", cfg.Search.EmbeddingDimension)
	}
	if cfg.Search.VectorWeight != 0.7 || cfg.Search.TextWeight != 0.3 {
		t.Errorf("expected default hybrid weights 0.7/0.3, got %v/%v", cfg.Search.VectorWeight, cfg.Search.TextWeight)
	}
	if cfg.Graph.Engine != "auto" {
		t.Errorf("expected default graph engine auto, got %s", cfg.Graph.Engine)
	}
	if cfg.Mirror.Type != "postgres" {
		t.Errorf("expected default mirror type postgres, got %s", cfg.Mirror.Type)
	}
	if cfg.Sync.BatchSize != 500 {
		t.Errorf("expected default sync batch size 500, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Sync.Interval != time.Minute {
		t.Errorf("expected default sync interval 1m, got %s", cfg.Sync.Interval)
	}
	if cfg.Graph.RecomputeInterval != 15*time.Minute {
		t.Errorf("expected default recompute interval 15m, got %s", cfg.Graph.RecomputeInterval)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
port: "3680"
env: "test"
database:
  host: "db.example.com"
search:
  embedding_dimension: 768
graph:
  engine: "native"
`)

	t.Setenv("PORT", "4680")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SEARCH_EMBEDDING_DIMENSION", "3072")

	cfg, err := LoadFromFile(path, "test-version")
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}

	// Env vars win over YAML
	if cfg.Port != "4680" {
		t.Errorf("expected Port=4680 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Search.EmbeddingDimension != 3072 {
		t.Errorf("expected embedding dimension 3072 (from env), got %d", cfg.Search.EmbeddingDimension)
	}

	// YAML value used where no env var is set
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Graph.Engine != "native" {
		t.Errorf("expected Graph.Engine=native (from yaml), got %s", cfg.Graph.Engine)
	}
}

func TestLoadFromFile_Validation(t *testing.T) {
	os.Unsetenv("SEARCH_EMBEDDING_DIMENSION")
	os.Unsetenv("GRAPH_ENGINE")
	os.Unsetenv("SYNC_BATCH_SIZE")
	os.Unsetenv("MIRROR_TYPE")
	os.Unsetenv("SYNC_INTERVAL")
	os.Unsetenv("GRAPH_RECOMPUTE_INTERVAL")

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			// YAML zero values get replaced by env-defaults, so invalid
			// settings must be negative to survive to validation.
			name: "negative embedding dimension",
			yaml: `
search:
  embedding_dimension: -5
`,
			wantErr: "embedding_dimension must be positive",
		},
		{
			name: "negative hybrid weight",
			yaml: `
search:
  vector_weight: -0.1
`,
			wantErr: "hybrid weights must be non-negative",
		},
		{
			name: "unknown mirror type",
			yaml: `
mirror:
  type: "oracle"
`,
			wantErr: `unsupported mirror type "oracle"`,
		},
		{
			name: "unknown graph engine",
			yaml: `
graph:
  engine: "neo4j"
`,
			wantErr: `unsupported graph engine "neo4j"`,
		},
		{
			name: "negative sync batch size",
			yaml: `
sync:
  batch_size: -1
`,
			wantErr: "batch_size must be positive",
		},
		{
			name: "negative sync interval",
			yaml: `
sync:
  interval: "-1m"
`,
			wantErr: "sync interval must not be negative",
		},
		{
			name: "negative recompute interval",
			yaml: `
graph:
  recompute_interval: "-30s"
`,
			wantErr: "graph recompute_interval must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.yaml)

			_, err := LoadFromFile(path, "test-version")
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"), "test-version")
	if err == nil {
		t.Error("expected error when config file is missing")
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host:     "substrate.internal",
		Port:     5432,
		User:     "strata",
		Password: "s3cret",
		Database: "strata_engine",
		SSLMode:  "require",
	}

	got := c.ConnectionString()
	want := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
