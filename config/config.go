package config

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration
// These paths can be overridden via environment variables
type DataPaths struct {
	// DataDir is the base data directory (SENTINEL_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (SENTINEL_SQLITE_PATH, default: ${DataDir}/sentinel.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Config holds all configuration for the Sentinel service
type Config struct {
	// DataPaths holds all data directory configuration
	DataPaths DataPaths `mapstructure:"data_paths"`

	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Dispatch struct {
		// Workers is the delivery worker pool size
		Workers int `mapstructure:"workers"`
		// QueueSize is the delivery task queue capacity
		QueueSize int `mapstructure:"queue_size"`
		// EventWorkers is the rule evaluation pool size
		EventWorkers int `mapstructure:"event_workers"`
		// EventQueueSize is the event queue capacity
		EventQueueSize int `mapstructure:"event_queue_size"`
		// Timeout bounds a single outbound send in seconds
		Timeout int `mapstructure:"timeout"`
		// RecoveryBatchSize caps pending deliveries re-enqueued at startup
		RecoveryBatchSize int `mapstructure:"recovery_batch_size"`
		Retry             struct {
			MaxAttempts    int `mapstructure:"max_attempts"`
			BackoffSeconds int `mapstructure:"backoff_seconds"`
		} `mapstructure:"retry"`
		RateLimit struct {
			PerSecond float64 `mapstructure:"per_second"`
			Burst     int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"dispatch"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Addr    string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "127.0.0.1:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("dispatch.workers", 8)
	viper.SetDefault("dispatch.queue_size", 1000)
	viper.SetDefault("dispatch.event_workers", 4)
	viper.SetDefault("dispatch.event_queue_size", 1000)
	viper.SetDefault("dispatch.timeout", 15) // seconds
	viper.SetDefault("dispatch.recovery_batch_size", 1000)
	viper.SetDefault("dispatch.retry.max_attempts", 3)
	viper.SetDefault("dispatch.retry.backoff_seconds", 60)
	viper.SetDefault("dispatch.rate_limit.per_second", 10.0)
	viper.SetDefault("dispatch.rate_limit.burst", 20)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", "127.0.0.1:9090")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()

	// Explicit bindings keep the common env var names short
	_ = viper.BindEnv("data_paths.data_dir", "SENTINEL_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "SENTINEL_SQLITE_PATH")
	_ = viper.BindEnv("redis.enabled", "SENTINEL_REDIS_ENABLED")
	_ = viper.BindEnv("redis.addr", "SENTINEL_REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "SENTINEL_REDIS_PASSWORD")
	_ = viper.BindEnv("dispatch.workers", "SENTINEL_DISPATCH_WORKERS")
	_ = viper.BindEnv("logging.level", "SENTINEL_LOG_LEVEL")
}

// LoadConfig reads configuration from config.yaml, environment variables
// and defaults, in that order of precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, will use defaults and env vars
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths resolves all data paths, deriving from DataDir if not
// explicitly set
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "sentinel.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}

	c.DataPaths.DataDir = dataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		return filepath.Join("./data", "sentinel.db")
	}
	return c.DataPaths.SQLitePath
}

// DispatchTimeout returns the per-send timeout as a duration.
func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.Timeout) * time.Second
}

// RetryBackoff returns the delivery retry backoff as a duration.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Dispatch.Retry.BackoffSeconds) * time.Second
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if config.Redis.Enabled {
		if _, _, err := net.SplitHostPort(config.Redis.Addr); err != nil {
			return fmt.Errorf("invalid redis addr %q: %w", config.Redis.Addr, err)
		}
	}

	if config.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1, got %d", config.Dispatch.Workers)
	}
	if config.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be at least 1, got %d", config.Dispatch.QueueSize)
	}
	if config.Dispatch.EventWorkers < 1 {
		return fmt.Errorf("dispatch.event_workers must be at least 1, got %d", config.Dispatch.EventWorkers)
	}
	if config.Dispatch.Retry.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.retry.max_attempts must be at least 1, got %d", config.Dispatch.Retry.MaxAttempts)
	}
	if config.Dispatch.Retry.BackoffSeconds < 0 {
		return fmt.Errorf("dispatch.retry.backoff_seconds cannot be negative, got %d", config.Dispatch.Retry.BackoffSeconds)
	}
	if config.Dispatch.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("dispatch.rate_limit.per_second must be positive, got %f", config.Dispatch.RateLimit.PerSecond)
	}

	if config.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(config.Metrics.Addr); err != nil {
			return fmt.Errorf("invalid metrics addr %q: %w", config.Metrics.Addr, err)
		}
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", config.Logging.Level)
	}

	return nil
}
