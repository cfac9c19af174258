package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "VECTOR"

// Config holds all process configuration
type Config struct {
	Index   IndexConfig   `mapstructure:"index"`
	Rebuild RebuildConfig `mapstructure:"rebuild"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// IndexConfig holds HNSW index configuration
type IndexConfig struct {
	M              int `mapstructure:"m"`               // Number of connections per layer (default: 16)
	EfConstruction int `mapstructure:"ef_construction"` // Construction time accuracy (default: 200)
	EfSearch       int `mapstructure:"ef_search"`       // Search time accuracy (default: 100)
}

// RebuildConfig tunes the encode pass of an index rebuild
type RebuildConfig struct {
	Workers   int `mapstructure:"workers"`    // Parallel encoders
	ChunkSize int `mapstructure:"chunk_size"` // Records per encode batch
}

// CacheConfig holds search cache configuration
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`  // Enable search caching
	Capacity int           `mapstructure:"capacity"` // Max cache entries
	TTL      time.Duration `mapstructure:"ttl"`      // Time to live for cache entries
}

// StorageConfig selects the record store
type StorageConfig struct {
	Backend string `mapstructure:"backend"`  // "memory" or "bolt"
	DataDir string `mapstructure:"data_dir"` // Directory of the bolt file
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// MetricsConfig toggles Prometheus metrics
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Storage backends
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
)

// Default returns default configuration
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
		Rebuild: RebuildConfig{
			Workers:   4,
			ChunkSize: 1024,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Capacity: 1000,
			TTL:      5 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: BackendBolt,
			DataDir: "./data",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	def := Default()

	v.SetDefault("index.m", def.Index.M)
	v.SetDefault("index.ef_construction", def.Index.EfConstruction)
	v.SetDefault("index.ef_search", def.Index.EfSearch)
	v.SetDefault("rebuild.workers", def.Rebuild.Workers)
	v.SetDefault("rebuild.chunk_size", def.Rebuild.ChunkSize)
	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.capacity", def.Cache.Capacity)
	v.SetDefault("cache.ttl", def.Cache.TTL)
	v.SetDefault("storage.backend", def.Storage.Backend)
	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.json", def.Logging.JSON)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)

	// index.ef_search is read from VECTOR_INDEX_EF_SEARCH
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadFromEnv loads configuration from defaults and environment variables
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Load reads defaults, then the YAML file at path when path is not empty,
// then environment variables. Later sources win.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "" {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Index validation
	if c.Index.M < 2 || c.Index.M > 100 {
		return fmt.Errorf("invalid index M: %d (recommended: 16)", c.Index.M)
	}
	if c.Index.EfConstruction < 10 {
		return fmt.Errorf("invalid index efConstruction: %d (must be >= 10)", c.Index.EfConstruction)
	}
	if c.Index.EfSearch < 1 {
		return fmt.Errorf("invalid index efSearch: %d (must be > 0)", c.Index.EfSearch)
	}

	// Rebuild validation
	if c.Rebuild.Workers < 1 {
		return fmt.Errorf("invalid rebuild workers: %d (must be > 0)", c.Rebuild.Workers)
	}
	if c.Rebuild.ChunkSize < 1 {
		return fmt.Errorf("invalid rebuild chunk size: %d (must be > 0)", c.Rebuild.ChunkSize)
	}

	// Cache validation
	if c.Cache.Enabled && c.Cache.Capacity < 1 {
		return fmt.Errorf("invalid cache capacity: %d (must be > 0)", c.Cache.Capacity)
	}

	// Storage validation
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("data directory not specified")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (expected %s or %s)", c.Storage.Backend, BackendMemory, BackendBolt)
	}

	return nil
}

// BoltPath returns the path of the bolt database inside the data directory
func (c *StorageConfig) BoltPath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}
