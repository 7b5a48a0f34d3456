package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/platinummonkey/tenancy/pkg/authzcache"
	"github.com/platinummonkey/tenancy/pkg/database"
	"github.com/platinummonkey/tenancy/pkg/observability"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "TENANCY"

// ConfigFileEnv names the variable holding an optional YAML config file path
const ConfigFileEnv = "TENANCY_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Authorization cache configuration
	Cache CacheConfig `mapstructure:"cache"`

	// Observability configuration
	Observability ObservabilityConfig `mapstructure:"observability"`

	// Catalog configuration
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Snowflake node id of this instance
	NodeID int64 `mapstructure:"node_id"`
}

// ServerConfig holds the ops HTTP server configuration
type ServerConfig struct {
	Host             string        `mapstructure:"host"`
	Port             string        `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds connection settings
type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime time.Duration `mapstructure:"max_idle_time"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Database returns the settings in the form database.Open takes
func (d DatabaseConfig) Database() database.Config {
	return database.Config{
		Driver:      d.Driver,
		DSN:         d.DSN,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
		Timeout:     d.Timeout,
	}
}

// CacheConfig holds authorization cache settings
type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	RedisURL        string        `mapstructure:"redis_url"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPoolSize   int           `mapstructure:"redis_pool_size"`
	RedisMaxRetries int           `mapstructure:"redis_max_retries"`
	L1Size          int           `mapstructure:"l1_size"`
	L1TTL           time.Duration `mapstructure:"l1_ttl"`
	L2TTL           time.Duration `mapstructure:"l2_ttl"`
	Channel         string        `mapstructure:"channel"`
}

// Redis returns the L2 client settings
func (c CacheConfig) Redis() authzcache.RedisConfig {
	return authzcache.RedisConfig{
		URL:        c.RedisURL,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		PoolSize:   c.RedisPoolSize,
		MaxRetries: c.RedisMaxRetries,
	}
}

// AuthzCache returns the cache tier settings
func (c CacheConfig) AuthzCache() authzcache.Config {
	return authzcache.Config{
		L1Size:  c.L1Size,
		L1TTL:   c.L1TTL,
		L2TTL:   c.L2TTL,
		Channel: c.Channel,
	}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Metrics
	MetricsEnabled bool `mapstructure:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `mapstructure:"otel_enabled"`
	OTelEndpoint       string  `mapstructure:"otel_endpoint"`
	OTelServiceName    string  `mapstructure:"otel_service_name"`
	OTelServiceVersion string  `mapstructure:"otel_service_version"`
	OTelInsecure       bool    `mapstructure:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `mapstructure:"otel_sample_ratio"`
	Environment        string  `mapstructure:"environment"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel returns the exporter settings, tagged with the node id and the
// storage backends of this instance
func (c *Config) OTel() observability.OTelConfig {
	o := c.Observability
	cache := "local"
	if c.Cache.Enabled {
		cache = "redis"
	}
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Environment:    o.Environment,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
		NodeID:         c.NodeID,
		DatabaseDriver: c.Database.Driver,
		CacheBackend:   cache,
	}
}

// CatalogConfig points at an optional permission catalog overlay
type CatalogConfig struct {
	OverlayPath string `mapstructure:"overlay_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "9090")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.operation_timeout", 10*time.Second)

	v.SetDefault("database.driver", string(database.Postgres))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_lifetime", 30*time.Minute)
	v.SetDefault("database.max_idle_time", 5*time.Minute)
	v.SetDefault("database.timeout", 5*time.Second)

	d := authzcache.DefaultConfig()
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_pool_size", 10)
	v.SetDefault("cache.redis_max_retries", 3)
	v.SetDefault("cache.l1_size", d.L1Size)
	v.SetDefault("cache.l1_ttl", d.L1TTL)
	v.SetDefault("cache.l2_ttl", d.L2TTL)
	v.SetDefault("cache.channel", d.Channel)

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.otel_enabled", false)
	v.SetDefault("observability.otel_endpoint", "localhost:4317")
	v.SetDefault("observability.otel_service_name", "tenancy")
	v.SetDefault("observability.otel_service_version", "1.0.0")
	v.SetDefault("observability.otel_insecure", true)
	v.SetDefault("observability.otel_sample_ratio", 1.0)
	v.SetDefault("observability.environment", "development")

	v.SetDefault("catalog.overlay_path", "")
	v.SetDefault("node_id", 1)
}

// Load reads the optional config file named by TENANCY_CONFIG_FILE, then
// applies TENANCY_* environment overrides and validates the result.
// TENANCY_DATABASE_DSN sets database.dsn.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if _, err := database.ParseDialect(c.Database.Driver); err != nil {
		return err
	}
	if c.Database.DSN == "" {
		return errors.New("database DSN is required")
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		return errors.New("redis URL is required when the cache is enabled")
	}
	if c.Cache.L1Size < 0 {
		return fmt.Errorf("invalid L1 cache size: %d", c.Cache.L1Size)
	}

	// snowflake reserves 10 bits for the node
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node id must be between 0 and 1023, got %d", c.NodeID)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1, got %v", r)
		}
	}

	return nil
}
