package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the nemesis engine.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Engine    EngineConfig    `yaml:"engine"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "bolt", "memory", "postgres"
	Path   string `yaml:"path"`   // bolt file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// EmbeddingConfig holds synthetic embedding configuration.
type EmbeddingConfig struct {
	Dimension      int `yaml:"dimension"`
	TagHashVersion int `yaml:"tag_hash_version"`
}

// DiscoveryConfig holds candidate selection configuration.
type DiscoveryConfig struct {
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"` // 0 = unbounded
	Scorer       string `yaml:"scorer"`    // "composite", "overlap"
}

// EngineConfig tunes mutation handling and the profile maintainer.
type EngineConfig struct {
	SerializeUserMutations bool          `yaml:"serialize_user_mutations"`
	MaintainerRetries      uint64        `yaml:"maintainer_retries"`
	MaintainerBackoff      time.Duration `yaml:"maintainer_backoff"`
	Concurrency            int           `yaml:"concurrency"`
}

// CacheConfig holds the tag embedding and discovery cache settings.
type CacheConfig struct {
	TagCacheSize   int64         `yaml:"tag_cache_size"`
	Discovery      string        `yaml:"discovery"` // "none", "memory", "redis"
	DiscoveryTTL   time.Duration `yaml:"discovery_ttl"`
	DiscoverySize  int           `yaml:"discovery_size"`
	RedisURL       string        `yaml:"redis_url"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Endpoint    string `yaml:"endpoint"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Driver: "bolt",
			Path:   DefaultDBPath("."),
		},
		Embedding: EmbeddingConfig{
			Dimension:      384,
			TagHashVersion: 1,
		},
		Discovery: DiscoveryConfig{
			DefaultLimit: 10,
			MaxLimit:     0,
			Scorer:       "composite",
		},
		Engine: EngineConfig{
			SerializeUserMutations: false,
			MaintainerRetries:      3,
			MaintainerBackoff:      50 * time.Millisecond,
			Concurrency:            8,
		},
		Cache: CacheConfig{
			TagCacheSize:   10000,
			Discovery:      "none",
			DiscoveryTTL:   5 * time.Minute,
			DiscoverySize:  1000,
			RedisURL:       "redis://localhost:6379/0",
			RedisKeyPrefix: "nemesis",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "nemesis",
			Endpoint:    "localhost:4317",
		},
	}
}

// Load loads configuration from a YAML file, then applies NEMESIS_* environment
// overrides (a .env file in the working directory is honored).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for nemesis.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "nemesis.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".nemesis", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.Store.Path = DefaultDBPath(dir)
	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Store.Driver = getEnv("NEMESIS_STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("NEMESIS_STORE_PATH", c.Store.Path)
	c.Store.DSN = getEnv("NEMESIS_POSTGRES_DSN", c.Store.DSN)
	c.Embedding.Dimension = getEnvInt("NEMESIS_EMBEDDING_DIMENSION", c.Embedding.Dimension)
	c.Discovery.MaxLimit = getEnvInt("NEMESIS_DISCOVERY_MAX_LIMIT", c.Discovery.MaxLimit)
	c.Discovery.Scorer = getEnv("NEMESIS_DISCOVERY_SCORER", c.Discovery.Scorer)
	c.Engine.SerializeUserMutations = getEnvBool("NEMESIS_SERIALIZE_USER_MUTATIONS", c.Engine.SerializeUserMutations)
	c.Cache.Discovery = getEnv("NEMESIS_DISCOVERY_CACHE", c.Cache.Discovery)
	c.Cache.RedisURL = getEnv("NEMESIS_REDIS_URL", c.Cache.RedisURL)
	c.Logging.Level = getEnv("NEMESIS_LOG_LEVEL", c.Logging.Level)
	c.Tracing.Enabled = getEnvBool("NEMESIS_TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("NEMESIS_OTLP_ENDPOINT", c.Tracing.Endpoint)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "bolt", "memory":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.TagHashVersion != 1 {
		return fmt.Errorf("unsupported embedding.tag_hash_version %d", c.Embedding.TagHashVersion)
	}
	switch c.Discovery.Scorer {
	case "", "composite", "overlap":
	default:
		return fmt.Errorf("unknown discovery scorer %q", c.Discovery.Scorer)
	}
	if c.Discovery.DefaultLimit <= 0 {
		return fmt.Errorf("discovery.default_limit must be positive, got %d", c.Discovery.DefaultLimit)
	}
	if c.Discovery.MaxLimit < 0 {
		return fmt.Errorf("discovery.max_limit must not be negative, got %d", c.Discovery.MaxLimit)
	}
	switch c.Cache.Discovery {
	case "", "none", "memory", "redis":
	default:
		return fmt.Errorf("unknown discovery cache %q", c.Cache.Discovery)
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultDBPath returns the path to the bolt database under dir.
func DefaultDBPath(dir string) string {
	return filepath.Join(dir, ".nemesis", "nemesis.db")
}

// EnsureDir ensures the parent directory of the bolt database exists.
func EnsureDir(dbPath string) error {
	return os.MkdirAll(filepath.Dir(dbPath), 0755)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
