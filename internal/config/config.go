// Package config loads the store and sync configuration from a file,
// environment variables, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/LeJamon/go-shamap/internal/storage/nodestore"
)

// Config is the top-level configuration.
type Config struct {
	Store nodestore.Config `mapstructure:"store"`
	Sync  SyncConfig       `mapstructure:"sync"`
}

// SyncConfig holds the sync core's shared cache sizes and logging.
type SyncConfig struct {
	// FullBelowCacheSize bounds the full-below hash cache.
	FullBelowCacheSize int `mapstructure:"full_below_cache_size"`

	// NodeCacheSize bounds the canonical node cache.
	NodeCacheSize int `mapstructure:"node_cache_size"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration in priority order: defaults, the optional config
// file, then SHAMAP_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("SHAMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Store.Validate(); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	if err := validateSync(&config.Sync); err != nil {
		return nil, fmt.Errorf("sync config: %w", err)
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	store := nodestore.DefaultConfig()
	v.SetDefault("store.backend", store.Backend)
	v.SetDefault("store.path", store.Path)
	v.SetDefault("store.cache_size", store.CacheSize)
	v.SetDefault("store.cache_ttl", store.CacheTTL)
	v.SetDefault("store.negative_cache_size", store.NegativeCacheSize)
	v.SetDefault("store.negative_cache_ttl", store.NegativeCacheTTL)
	v.SetDefault("store.compressor", store.Compressor)
	v.SetDefault("store.read_threads", store.ReadThreads)
	v.SetDefault("store.read_bundle", store.ReadBundle)
	v.SetDefault("store.create_if_missing", store.CreateIfMissing)

	v.SetDefault("sync.full_below_cache_size", 65536)
	v.SetDefault("sync.node_cache_size", 65536)
	v.SetDefault("sync.log_level", "warn")
}

func validateSync(s *SyncConfig) error {
	if s.FullBelowCacheSize <= 0 {
		return fmt.Errorf("full_below_cache_size must be positive")
	}
	if s.NodeCacheSize <= 0 {
		return fmt.Errorf("node_cache_size must be positive")
	}
	switch s.LogLevel {
	case "trace", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", s.LogLevel)
	}
}
