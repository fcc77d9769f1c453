// Package config loads service configuration from YAML files and
// environment variables via viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/agatticelli/gatekit/internal/platform/ratelimit"
)

// Config holds all configuration for the gateway toolkit.
type Config struct {
	Cache         CacheConfig                 `mapstructure:"cache"`
	RateLimits    map[string]ratelimit.Config `mapstructure:"rate_limits"`
	Redis         RedisConfig                 `mapstructure:"redis"`
	AWS           AWSConfig                   `mapstructure:"aws"`
	Alerting      AlertingConfig              `mapstructure:"alerting"`
	Worker        WorkerConfig                `mapstructure:"worker"`
	Observability ObservabilityConfig         `mapstructure:"observability"`
	HTTP          HTTPConfig                  `mapstructure:"http"`
}

// CacheConfig holds tiered cache configuration. Tiers are assembled
// fastest first: memory, then edge, then whichever of redis and
// dynamodb are enabled.
type CacheConfig struct {
	Memory   MemoryTierConfig `mapstructure:"memory"`
	Edge     EdgeTierConfig   `mapstructure:"edge"`
	Redis    RedisTierConfig  `mapstructure:"redis"`
	DynamoDB DynamoTierConfig `mapstructure:"dynamodb"`
}

// MemoryTierConfig configures the in-process LRU tier.
type MemoryTierConfig struct {
	MaxEntries    int           `mapstructure:"max_entries"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// EdgeTierConfig configures the byte-bounded edge tier.
type EdgeTierConfig struct {
	Enabled  bool  `mapstructure:"enabled"`
	MaxBytes int64 `mapstructure:"max_bytes"`
}

// RedisTierConfig enables the shared Redis tier. Connection settings
// come from the top-level redis block.
type RedisTierConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// DynamoTierConfig enables the DynamoDB tier.
type DynamoTierConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Table   string `mapstructure:"table"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AWSConfig holds AWS service configuration.
type AWSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
}

// AlertingConfig holds critical error alerting settings.
type AlertingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// WorkerConfig holds background worker pool settings.
type WorkerConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text or pretty
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TracingConfig holds tracing settings.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Sampler  string `mapstructure:"sampler"` // always, never, ratio
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not fatal if env vars are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Cache defaults
	v.SetDefault("cache.memory.max_entries", 1000)
	v.SetDefault("cache.memory.sweep_interval", "30s")
	v.SetDefault("cache.edge.enabled", true)
	v.SetDefault("cache.edge.max_bytes", 52428800) // 50 MB
	v.SetDefault("cache.redis.enabled", true)
	v.SetDefault("cache.redis.key_prefix", "gatekit:cache:")
	v.SetDefault("cache.dynamodb.enabled", false)
	v.SetDefault("cache.dynamodb.table", "gatekit-cache")

	// Rate limit defaults: a sane default bucket for unnamed traffic
	v.SetDefault("rate_limits.default.requests", 100)
	v.SetDefault("rate_limits.default.window", "1m")
	v.SetDefault("rate_limits.default.strategy", "token_bucket")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// AWS defaults
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.region", "us-east-1")

	// Alerting defaults
	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.sns_topic_arn", "")

	// Worker defaults
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.queue_size", 64)

	// Observability defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.port", 9091)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sampler", "always")

	// HTTP defaults
	v.SetDefault("http.port", 8080)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Cache validation
	if c.Cache.Memory.MaxEntries <= 0 {
		return fmt.Errorf("cache.memory.max_entries must be > 0")
	}
	if c.Cache.Edge.Enabled && c.Cache.Edge.MaxBytes <= 0 {
		return fmt.Errorf("cache.edge.max_bytes must be > 0")
	}
	if c.Cache.DynamoDB.Enabled && c.Cache.DynamoDB.Table == "" {
		return fmt.Errorf("cache.dynamodb.table is required")
	}

	// Rate limit validation
	for name, rl := range c.RateLimits {
		if err := rl.Validate(); err != nil {
			return fmt.Errorf("rate limit %q: %w", name, err)
		}
	}

	// Redis validation
	if c.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	// AWS validation
	if c.Alerting.Enabled {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required when alerting is enabled")
		}
		if c.Alerting.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required when alerting is enabled")
		}
	}

	// Worker validation
	if c.Worker.Workers <= 0 {
		return fmt.Errorf("worker.workers must be > 0")
	}

	// Observability validation
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json":   true,
		"text":   true,
		"pretty": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	return nil
}
