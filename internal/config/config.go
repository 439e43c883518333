// Package config loads the calcpipe YAML configuration.
//
// Durations are written in milliseconds to match the knobs operators tune
// (debounce delays sit in the 100-800ms range). Missing fields take the
// defaults below; the result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/cache"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/dispatcher"
	"github.com/17chuhai-dev/zinses-rechner-optimization-sub007/internal/scheduler"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultMetricsPort = 9090
	DefaultGRPCPort    = 50051
	DefaultHotKeys     = 100
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
)

// Config is the top-level configuration.
type Config struct {
	Pool     PoolConfig     `yaml:"pool"`
	Cache    CacheConfig    `yaml:"cache"`
	Debounce DebounceConfig `yaml:"debounce"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	GRPC     GRPCConfig     `yaml:"grpc"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	MaxWorkers       int `yaml:"max_workers"`
	WorkerCapacity   int `yaml:"worker_capacity"`
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
	QueueMaxDepth    int `yaml:"queue_max_depth"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	MaxEntries      int   `yaml:"max_entries"`
	MaxMemoryBytes  int64 `yaml:"max_memory_bytes"`
	DefaultTTLMs    int   `yaml:"default_ttl_ms"`
	SweepIntervalMs int   `yaml:"sweep_interval_ms"`
}

// DebounceConfig tunes the adaptive input scheduler. It is the only section
// applied on hot reload.
type DebounceConfig struct {
	BaseDelayMsByKind  map[string]int `yaml:"base_delay_ms_by_kind"`
	DefaultBaseDelayMs int            `yaml:"default_base_delay_ms"`
	MinDelayMs         int            `yaml:"min_delay_ms"`
	MaxDelayMs         int            `yaml:"max_delay_ms"`
	WindowMs           int            `yaml:"window_ms"`
	BurstThreshold     int            `yaml:"burst_threshold"`
	PauseThresholdMs   int            `yaml:"pause_threshold_ms"`
	GrowFactor         float64        `yaml:"grow_factor"`
	ShrinkFactor       float64        `yaml:"shrink_factor"`
}

// SnapshotConfig controls the hot-key snapshot. An empty path disables it.
type SnapshotConfig struct {
	Path    string `yaml:"path"`
	HotKeys int    `yaml:"hot_keys"`
}

// LoggingConfig selects the slog handler. File enables rotation.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	pool := dispatcher.DefaultConfig()
	deb := scheduler.DefaultConfig()
	return &Config{
		Pool: PoolConfig{
			MaxWorkers:       pool.MaxWorkers,
			WorkerCapacity:   pool.WorkerCapacity,
			RequestTimeoutMs: ms(pool.RequestTimeout),
			QueueMaxDepth:    pool.QueueMaxDepth,
		},
		Cache: CacheConfig{
			MaxEntries:      cache.DefaultMaxEntries,
			MaxMemoryBytes:  cache.DefaultMaxMemoryBytes,
			DefaultTTLMs:    ms(cache.DefaultTTL),
			SweepIntervalMs: ms(cache.DefaultSweepInterval),
		},
		Debounce: DebounceConfig{
			BaseDelayMsByKind:  map[string]int{},
			DefaultBaseDelayMs: ms(deb.DefaultBaseDelay),
			MinDelayMs:         ms(deb.MinDelay),
			MaxDelayMs:         ms(deb.MaxDelay),
			WindowMs:           ms(deb.Window),
			BurstThreshold:     deb.BurstThreshold,
			PauseThresholdMs:   ms(deb.PauseThreshold),
			GrowFactor:         deb.GrowFactor,
			ShrinkFactor:       deb.ShrinkFactor,
		},
		Snapshot: SnapshotConfig{HotKeys: DefaultHotKeys},
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Format:     DefaultLogFormat,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Metrics: MetricsConfig{Port: DefaultMetricsPort},
		GRPC:    GRPCConfig{Port: DefaultGRPCPort},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.DispatcherConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pool: %w", err))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be positive"))
	}
	if c.Cache.MaxMemoryBytes <= 0 {
		errs = append(errs, errors.New("cache.max_memory_bytes must be positive"))
	}
	if c.Cache.DefaultTTLMs <= 0 {
		errs = append(errs, errors.New("cache.default_ttl_ms must be positive"))
	}
	if err := c.SchedulerConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("debounce: %w", err))
	}
	if c.Snapshot.HotKeys < 0 {
		errs = append(errs, errors.New("snapshot.hot_keys must not be negative"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, fmt.Errorf("metrics.port: invalid port %d", c.Metrics.Port))
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 0 || c.GRPC.Port > 65535) {
		errs = append(errs, fmt.Errorf("grpc.port: invalid port %d", c.GRPC.Port))
	}
	return errors.Join(errs...)
}

// DispatcherConfig converts the pool section. The cache TTL rides along so
// computed results use the configured lifetime.
func (c *Config) DispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		MaxWorkers:     c.Pool.MaxWorkers,
		WorkerCapacity: c.Pool.WorkerCapacity,
		RequestTimeout: dur(c.Pool.RequestTimeoutMs),
		QueueMaxDepth:  c.Pool.QueueMaxDepth,
		CacheTTL:       dur(c.Cache.DefaultTTLMs),
	}
}

// CacheOptions converts the cache section.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		MaxEntries:     c.Cache.MaxEntries,
		MaxMemoryBytes: c.Cache.MaxMemoryBytes,
		DefaultTTL:     dur(c.Cache.DefaultTTLMs),
		SweepInterval:  dur(c.Cache.SweepIntervalMs),
	}
}

// SchedulerConfig converts the debounce section.
func (c *Config) SchedulerConfig() scheduler.Config {
	byKind := make(map[string]time.Duration, len(c.Debounce.BaseDelayMsByKind))
	for kind, v := range c.Debounce.BaseDelayMsByKind {
		byKind[kind] = dur(v)
	}
	return scheduler.Config{
		BaseDelayByKind:  byKind,
		DefaultBaseDelay: dur(c.Debounce.DefaultBaseDelayMs),
		MinDelay:         dur(c.Debounce.MinDelayMs),
		MaxDelay:         dur(c.Debounce.MaxDelayMs),
		Window:           dur(c.Debounce.WindowMs),
		BurstThreshold:   c.Debounce.BurstThreshold,
		PauseThreshold:   dur(c.Debounce.PauseThresholdMs),
		GrowFactor:       c.Debounce.GrowFactor,
		ShrinkFactor:     c.Debounce.ShrinkFactor,
	}
}

func ms(d time.Duration) int { return int(d / time.Millisecond) }

func dur(v int) time.Duration { return time.Duration(v) * time.Millisecond }
