// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Harvest   HarvestConfig   `mapstructure:"harvest"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store"`
	Artifacts ArtifactConfig  `mapstructure:"artifacts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the observability HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HarvestConfig governs source selection, the scheduler, and the worker
// pool.
type HarvestConfig struct {
	// Source picks the site implementation: "peraturan" or "bpk".
	Source          string `mapstructure:"source"`
	MaxWorkers      int    `mapstructure:"max_workers"`
	MaxRetries      int    `mapstructure:"max_retries"`
	MinItemsPerPage int    `mapstructure:"min_items_per_page"`
	PageSize        int    `mapstructure:"page_size"`
	ExpectedItems   int    `mapstructure:"expected_total_items"`
	// ExpectedPages sizes catalogs that never advertise a total, like the
	// BPK search endpoint; 0 uses the source's default.
	ExpectedPages int `mapstructure:"expected_total_pages"`
	// CheckpointEverySec throttles periodic checkpoint writes; 0 disables.
	CheckpointEverySec int `mapstructure:"checkpoint_every_seconds"`
}

// HTTPConfig configures page fetch timeout and retry backoff.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxAttempts      int     `mapstructure:"max_attempts"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	BackoffJitter    float64 `mapstructure:"backoff_jitter"`
	UserAgent        string  `mapstructure:"user_agent"`
}

// RateLimitConfig bounds how hard the pool leans on the upstream site.
// MaxInFlight should be kept below harvest.max_workers so a worker is
// always parked, smoothing the request profile.
type RateLimitConfig struct {
	MaxInFlight   int `mapstructure:"max_in_flight"`
	MinIntervalMs int `mapstructure:"min_interval_ms"`
}

// StoreConfig sets persistence paths.
type StoreConfig struct {
	Path           string `mapstructure:"path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
}

// ArtifactConfig controls PDF downloading.
type ArtifactConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Dir            string `mapstructure:"dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig selects the zap preset and minimum level.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the preset's minimum level when set; any name
	// zap.ParseAtomicLevel accepts.
	Level string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("harvest.source", "peraturan")
	v.SetDefault("harvest.max_workers", 5)
	v.SetDefault("harvest.max_retries", 3)
	v.SetDefault("harvest.min_items_per_page", 18)
	v.SetDefault("harvest.page_size", 20)
	v.SetDefault("harvest.expected_total_items", 0)
	v.SetDefault("harvest.checkpoint_every_seconds", 30)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_attempts", 5)
	v.SetDefault("http.backoff_initial_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 60000)
	v.SetDefault("http.backoff_jitter", 0.5)
	v.SetDefault("http.user_agent", "lexindo-harvester/1.0")
	v.SetDefault("rate_limit.max_in_flight", 3)
	v.SetDefault("rate_limit.min_interval_ms", 1000)
	v.SetDefault("store.path", "data/regulations.db")
	v.SetDefault("store.checkpoint_path", "data/checkpoint.json")
	v.SetDefault("artifacts.enabled", true)
	v.SetDefault("artifacts.dir", "data/pdfs")
	v.SetDefault("artifacts.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Harvest.Source {
	case "peraturan", "bpk":
	default:
		return fmt.Errorf("harvest.source must be peraturan or bpk, got %q", c.Harvest.Source)
	}
	if c.Harvest.MaxWorkers <= 0 {
		return fmt.Errorf("harvest.max_workers must be > 0")
	}
	if c.Harvest.MaxRetries < 0 {
		return fmt.Errorf("harvest.max_retries must be >= 0")
	}
	if c.Harvest.MinItemsPerPage <= 0 {
		return fmt.Errorf("harvest.min_items_per_page must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.RateLimit.MaxInFlight <= 0 {
		return fmt.Errorf("rate_limit.max_in_flight must be > 0")
	}
	if c.RateLimit.MaxInFlight >= c.Harvest.MaxWorkers && c.Harvest.MaxWorkers > 1 {
		return fmt.Errorf("rate_limit.max_in_flight must be < harvest.max_workers")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must be set")
	}
	if c.Artifacts.Enabled && c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir must be set when artifacts are enabled")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// HTTPTimeout returns the page fetch timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// MinInterval returns the per-worker request spacing as a duration.
func (c Config) MinInterval() time.Duration {
	return time.Duration(c.RateLimit.MinIntervalMs) * time.Millisecond
}
