// Package config loads tierouter configuration from file, environment, and
// defaults using viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the tier router.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	HealthInterval time.Duration `mapstructure:"health_interval"`
	Pools          PoolsConfig   `mapstructure:"pools"`
	Redis          RedisConfig   `mapstructure:"redis"`
	RateLimit      RateLimitCfg  `mapstructure:"rate_limit"`
	Logging        LoggingConfig `mapstructure:"logging"`
	Metrics        MetricsConfig `mapstructure:"metrics"`
}

// PoolsConfig holds the three named worker pools the router can target.
type PoolsConfig struct {
	Priority PoolConfig `mapstructure:"priority"`
	Standard PoolConfig `mapstructure:"standard"`
	Overflow PoolConfig `mapstructure:"overflow"`
}

// PoolConfig defines a single worker pool's connection settings.
type PoolConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	HealthPath     string        `mapstructure:"health_path"`
	ProcessPath    string        `mapstructure:"process_path"`
	MaxQueueWaitS  float64       `mapstructure:"max_queue_wait_s"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// RedisConfig defines the shared KV store connection.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Namespace string `mapstructure:"namespace"`
}

// RateLimitCfg defines per-tier daily message limits. A limit of 0 means
// unlimited (used for the enterprise tier).
type RateLimitCfg struct {
	FreeLimit       int `mapstructure:"free_limit"`
	PremiumLimit    int `mapstructure:"premium_limit"`
	EnterpriseLimit int `mapstructure:"enterprise_limit"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the optional metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tierouter")
	}

	v.SetEnvPrefix("TIERROUTER")
	v.AutomaticEnv()
	if err := bindLegacyEnvAliases(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindLegacyEnvAliases wires the literal environment variable names named in
// the worker-pool external interface (PRIORITY_WORKER_URL, etc.) so operators
// don't need the TIERROUTER_ prefix for the most commonly overridden settings.
func bindLegacyEnvAliases(v *viper.Viper) error {
	_ = v.BindEnv("pools.priority.base_url", "PRIORITY_WORKER_URL")
	_ = v.BindEnv("pools.standard.base_url", "STANDARD_WORKER_URL")
	_ = v.BindEnv("pools.overflow.base_url", "OVERFLOW_WORKER_URL")
	_ = v.BindEnv("pools.priority.max_concurrency", "PRIORITY_MAX_CONCURRENCY")
	_ = v.BindEnv("pools.standard.max_concurrency", "STANDARD_MAX_CONCURRENCY")
	_ = v.BindEnv("pools.overflow.max_concurrency", "OVERFLOW_MAX_CONCURRENCY")
	_ = v.BindEnv("redis.url", "REDIS_URL")

	// POOL_HEALTH_INTERVAL_S is a number of seconds (e.g. "1.0"), not a Go
	// duration string, so it is converted here instead of bound directly.
	if s := os.Getenv("POOL_HEALTH_INTERVAL_S"); s != "" {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("invalid POOL_HEALTH_INTERVAL_S %q: want a positive number of seconds", s)
		}
		v.Set("health_interval", time.Duration(secs*float64(time.Second)))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("health_interval", "10s")

	v.SetDefault("pools.priority.base_url", "http://localhost:8001")
	v.SetDefault("pools.priority.max_concurrency", 50)
	v.SetDefault("pools.priority.health_path", "/healthz")
	v.SetDefault("pools.priority.process_path", "/process")
	v.SetDefault("pools.priority.max_queue_wait_s", 0.0)
	v.SetDefault("pools.priority.request_timeout", "5s")

	v.SetDefault("pools.standard.base_url", "http://localhost:8002")
	v.SetDefault("pools.standard.max_concurrency", 80)
	v.SetDefault("pools.standard.health_path", "/healthz")
	v.SetDefault("pools.standard.process_path", "/process")
	v.SetDefault("pools.standard.max_queue_wait_s", 0.25)
	v.SetDefault("pools.standard.request_timeout", "5s")

	v.SetDefault("pools.overflow.base_url", "http://localhost:8003")
	v.SetDefault("pools.overflow.max_concurrency", 30)
	v.SetDefault("pools.overflow.health_path", "/healthz")
	v.SetDefault("pools.overflow.process_path", "/process")
	v.SetDefault("pools.overflow.max_queue_wait_s", 0.5)
	v.SetDefault("pools.overflow.request_timeout", "5s")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.namespace", "ira")

	v.SetDefault("rate_limit.free_limit", 10)
	v.SetDefault("rate_limit.premium_limit", 100)
	v.SetDefault("rate_limit.enterprise_limit", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
