package nodestore

import (
	"errors"
	"fmt"
	"time"

	"github.com/LeJamon/go-shamap/internal/storage/nodestore/compression"
)

// Config holds configuration options for the store.
type Config struct {
	// Backend specifies the storage backend to use.
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Path specifies the file system path for data storage.
	Path string `json:"path" yaml:"path" mapstructure:"path"`

	// Cache configuration.
	CacheSize int           `json:"cache_size" yaml:"cache_size" mapstructure:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl" mapstructure:"cache_ttl"`

	// Negative cache configuration.
	NegativeCacheSize int           `json:"negative_cache_size" yaml:"negative_cache_size" mapstructure:"negative_cache_size"`
	NegativeCacheTTL  time.Duration `json:"negative_cache_ttl" yaml:"negative_cache_ttl" mapstructure:"negative_cache_ttl"`

	// Compression configuration.
	Compressor string `json:"compressor" yaml:"compressor" mapstructure:"compressor"`

	// Async read configuration. ReadThreads workers serve background
	// reads; callers are encouraged to keep ReadThreads*ReadBundle reads
	// in flight.
	ReadThreads int `json:"read_threads" yaml:"read_threads" mapstructure:"read_threads"`
	ReadBundle  int `json:"read_bundle" yaml:"read_bundle" mapstructure:"read_bundle"`

	CreateIfMissing bool `json:"create_if_missing" yaml:"create_if_missing" mapstructure:"create_if_missing"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend:           "pebble",
		Path:              "./nodestore",
		CacheSize:         16384,
		CacheTTL:          DefaultCacheTTL,
		NegativeCacheSize: 100000,
		NegativeCacheTTL:  5 * time.Minute,
		Compressor:        "lz4",
		ReadThreads:       4,
		ReadBundle:        4,
		CreateIfMissing:   true,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Backend == "" {
		return errors.New("backend must be specified")
	}
	if c.Backend != "memory" && c.Path == "" {
		return errors.New("path must be specified")
	}
	if c.CacheSize < 0 {
		return errors.New("cache_size must be non-negative")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache_ttl must be non-negative")
	}
	if c.ReadThreads < 1 {
		return errors.New("read_threads must be at least 1")
	}
	if c.ReadBundle < 1 || c.ReadBundle > 64 {
		return errors.New("read_bundle must be between 1 and 64")
	}
	if !compression.IsAvailable(c.Compressor) {
		return fmt.Errorf("unsupported compressor: %s", c.Compressor)
	}
	return nil
}
