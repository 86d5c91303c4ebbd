// Package config provides configuration management for the dashboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"ibkr-dashboard/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig      `mapstructure:"server"`
	Broker     BrokerConfig      `mapstructure:"broker"`
	Storage    StorageConfig     `mapstructure:"storage"`
	Staging    StagingConfig     `mapstructure:"staging"`
	Enrichment EnrichmentConfig  `mapstructure:"enrichment"`
	Watchlists WatchlistConfig   `mapstructure:"watchlists"`
	Logging    logging.LogConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr          string `mapstructure:"addr"`
	SessionCookie string `mapstructure:"session_cookie"`
	MaxUploadMB   int64  `mapstructure:"max_upload_mb"`
}

// BrokerConfig holds gateway connection configuration.
type BrokerConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	AccountID        string        `mapstructure:"account_id"`
	InsecureTLS      bool          `mapstructure:"insecure_tls"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// StorageConfig selects the watchlist persistence backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // json, sqlite, memory
	Path    string `mapstructure:"path"`
}

// StagingConfig selects where staged CSV batches live between requests.
type StagingConfig struct {
	Backend   string        `mapstructure:"backend"` // memory, redis
	RedisAddr string        `mapstructure:"redis_addr"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// EnrichmentConfig bounds the cost of price refreshes.
type EnrichmentConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

// WatchlistConfig holds watchlist behaviour switches.
type WatchlistConfig struct {
	UniqueNames bool `mapstructure:"unique_names"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ibkr-dashboard"
	}
	return filepath.Join(home, ".config", "ibkr-dashboard")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config.toml: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	logDefaults := logging.DefaultLogConfig()
	logDefaults.FilePath = filepath.Join(configDir, "logs", "dashboard.log")

	v.SetDefault("server.addr", "127.0.0.1:5056")
	v.SetDefault("server.session_cookie", "dashboard_session")
	v.SetDefault("server.max_upload_mb", 4)

	v.SetDefault("broker.base_url", "https://localhost:5055/v1/api")
	v.SetDefault("broker.insecure_tls", true)
	v.SetDefault("broker.timeout", 15*time.Second)
	v.SetDefault("broker.failure_threshold", 5)
	v.SetDefault("broker.breaker_timeout", 30*time.Second)

	v.SetDefault("storage.backend", "json")
	v.SetDefault("storage.path", filepath.Join(configDir, "data", "watchlists.json"))

	v.SetDefault("staging.backend", "memory")
	v.SetDefault("staging.redis_addr", "localhost:6379")
	v.SetDefault("staging.ttl", 30*time.Minute)

	v.SetDefault("enrichment.concurrency", 8)
	v.SetDefault("enrichment.cache_ttl", 5*time.Second)

	v.SetDefault("watchlists.unique_names", false)

	v.SetDefault("logging.level", logDefaults.Level)
	v.SetDefault("logging.console", logDefaults.Console)
	v.SetDefault("logging.file", logDefaults.File)
	v.SetDefault("logging.file_path", logDefaults.FilePath)
	v.SetDefault("logging.max_size", logDefaults.MaxSize)
	v.SetDefault("logging.max_backups", logDefaults.MaxBackups)
	v.SetDefault("logging.max_age", logDefaults.MaxAge)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("IBKR_BASE_URL"); v != "" {
		cfg.Broker.BaseURL = v
	}
	if v := os.Getenv("IBKR_ACCOUNT_ID"); v != "" {
		cfg.Broker.AccountID = v
	}
	if v := os.Getenv("DASHBOARD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Staging.RedisAddr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "json", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be 'json', 'sqlite' or 'memory')", c.Storage.Backend)
	}

	switch c.Staging.Backend {
	case "memory":
	case "redis":
		if c.Staging.RedisAddr == "" {
			return fmt.Errorf("staging.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid staging backend: %s (must be 'memory' or 'redis')", c.Staging.Backend)
	}

	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Staging.TTL <= 0 {
		return fmt.Errorf("staging.ttl must be positive")
	}
	if c.Enrichment.Concurrency < 1 {
		return fmt.Errorf("enrichment.concurrency must be at least 1")
	}
	if c.Enrichment.CacheTTL < 0 {
		return fmt.Errorf("enrichment.cache_ttl must be non-negative")
	}

	return nil
}
