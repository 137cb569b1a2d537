package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected Dimension=384, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Discovery.DefaultLimit != 10 {
		t.Errorf("expected DefaultLimit=10, got %d", cfg.Discovery.DefaultLimit)
	}
	if cfg.Discovery.MaxLimit != 0 {
		t.Errorf("expected unbounded MaxLimit, got %d", cfg.Discovery.MaxLimit)
	}
	if cfg.Store.Driver != "bolt" {
		t.Errorf("expected bolt driver, got %s", cfg.Store.Driver)
	}
	if cfg.Cache.Discovery != "none" {
		t.Errorf("expected discovery cache off, got %s", cfg.Cache.Discovery)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nemesis.yaml")

	content := `
embedding:
  dimension: 64
discovery:
  max_limit: 50
  scorer: overlap
engine:
  maintainer_backoff: 200ms
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Embedding.Dimension != 64 {
		t.Errorf("expected Dimension=64, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Discovery.MaxLimit != 50 {
		t.Errorf("expected MaxLimit=50, got %d", cfg.Discovery.MaxLimit)
	}
	if cfg.Discovery.Scorer != "overlap" {
		t.Errorf("expected overlap scorer, got %s", cfg.Discovery.Scorer)
	}
	if cfg.Engine.MaintainerBackoff != 200*time.Millisecond {
		t.Errorf("expected 200ms backoff, got %s", cfg.Engine.MaintainerBackoff)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NEMESIS_STORE_DRIVER", "memory")
	t.Setenv("NEMESIS_EMBEDDING_DIMENSION", "32")
	t.Setenv("NEMESIS_SERIALIZE_USER_MUTATIONS", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("expected memory driver, got %s", cfg.Store.Driver)
	}
	if cfg.Embedding.Dimension != 32 {
		t.Errorf("expected Dimension=32, got %d", cfg.Embedding.Dimension)
	}
	if !cfg.Engine.SerializeUserMutations {
		t.Error("expected serialized mutations")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "mongo" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"hash version", func(c *Config) { c.Embedding.TagHashVersion = 2 }},
		{"unknown scorer", func(c *Config) { c.Discovery.Scorer = "cosine" }},
		{"negative max limit", func(c *Config) { c.Discovery.MaxLimit = -1 }},
		{"unknown cache", func(c *Config) { c.Cache.Discovery = "memcached" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nemesis.yaml")

	content := `
discovery:
  default_limit: 25
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Discovery.DefaultLimit != 25 {
		t.Errorf("expected DefaultLimit=25, got %d", cfg.Discovery.DefaultLimit)
	}
}

func TestDefaultDBPath(t *testing.T) {
	path := DefaultDBPath("/home/user/project")
	expected := filepath.Join("/home/user/project", ".nemesis", "nemesis.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
