package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
	"github.com/platinummonkey/bodystore/pkg/storage"
)

// EnvConfigFile names the optional YAML configuration file.
const EnvConfigFile = "BODYSTORE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Write path configuration
	Engine bodies.Config `yaml:"engine"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Retention configuration
	Retention RetentionConfig `yaml:"retention"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// RetentionConfig controls body expiry.
type RetentionConfig struct {
	// Default is applied to bodies written without an explicit expiry.
	// Zero keeps such bodies forever.
	Default time.Duration `yaml:"default"`

	PurgeEnabled  bool   `yaml:"purge_enabled"`
	PurgeSchedule string `yaml:"purge_schedule"` // cron schedule
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// OTel returns the tracing configuration.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    10 << 20,
			HealthPort:      "9090",
		},
		Engine:  bodies.DefaultConfig(),
		Storage: storage.DefaultConfig(),
		Retention: RetentionConfig{
			Default:       720 * time.Hour,
			PurgeEnabled:  true,
			PurgeSchedule: "@every 10m",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          observability.FormatJSON,
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "bodystore",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig loads the YAML file named by BODYSTORE_CONFIG_FILE, if any,
// then applies environment overrides and validates the result.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv(EnvConfigFile, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile reads a YAML configuration file over the defaults without
// consulting the environment.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.applyServerEnv()
	c.applyEngineEnv()
	c.applyStorageEnv()
	c.applyRetentionEnv()
	c.applyObservabilityEnv()
}

// applyServerEnv loads server configuration from environment
func (c *Config) applyServerEnv() {
	s := &c.Server
	s.Host = getEnv("BODYSTORE_HOST", s.Host)
	s.Port = getEnv("BODYSTORE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BODYSTORE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BODYSTORE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BODYSTORE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BODYSTORE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxBodyBytes = getEnvInt64("BODYSTORE_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.HealthPort = getEnv("BODYSTORE_HEALTH_PORT", s.HealthPort)
}

func (c *Config) applyEngineEnv() {
	e := &c.Engine
	e.BatchSize = getEnvInt("BODYSTORE_BATCH_SIZE", e.BatchSize)
	e.ParallelWriters = getEnvInt("BODYSTORE_PARALLEL_WRITERS", e.ParallelWriters)
	e.BatchTimeout = getEnvDuration("BODYSTORE_BATCH_TIMEOUT", e.BatchTimeout)
	e.IngressCapacity = getEnvInt("BODYSTORE_INGRESS_CAPACITY", e.IngressCapacity)
	e.BacklogWarnThreshold = getEnvInt("BODYSTORE_BACKLOG_WARN_THRESHOLD", e.BacklogWarnThreshold)
	e.WarnInterval = getEnvDuration("BODYSTORE_WARN_INTERVAL", e.WarnInterval)
}

// applyStorageEnv loads storage configuration from environment
func (c *Config) applyStorageEnv() {
	s := &c.Storage

	// Storage type
	s.Type = getEnv("BODYSTORE_STORAGE_TYPE", s.Type)

	// PostgreSQL config
	s.PostgresURL = getEnv("BODYSTORE_POSTGRES_URL", s.PostgresURL)
	if replicaURLs := getEnv("BODYSTORE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		s.PostgresReplicaURLs = splitList(replicaURLs)
	}
	s.PostgresMaxConns = getEnvInt("BODYSTORE_POSTGRES_MAX_CONNS", s.PostgresMaxConns)
	s.PostgresMinConns = getEnvInt("BODYSTORE_POSTGRES_MIN_CONNS", s.PostgresMinConns)
	s.PostgresTimeout = getEnvDuration("BODYSTORE_POSTGRES_TIMEOUT", s.PostgresTimeout)
	s.PostgresTable = getEnv("BODYSTORE_POSTGRES_TABLE", s.PostgresTable)
	s.PostgresAutoMigrate = getEnvBool("BODYSTORE_POSTGRES_AUTO_MIGRATE", s.PostgresAutoMigrate)
	s.PostgresReadFromPrimary = getEnvBool("BODYSTORE_POSTGRES_READ_FROM_PRIMARY", s.PostgresReadFromPrimary)
	s.InlineTable = getEnv("BODYSTORE_INLINE_TABLE", s.InlineTable)

	// S3 config
	s.S3Endpoint = getEnv("BODYSTORE_S3_ENDPOINT", s.S3Endpoint)
	s.S3Region = getEnv("BODYSTORE_S3_REGION", s.S3Region)
	s.S3Bucket = getEnv("BODYSTORE_S3_BUCKET", s.S3Bucket)
	s.S3AccessKey = getEnv("BODYSTORE_S3_ACCESS_KEY", s.S3AccessKey)
	s.S3SecretKey = getEnv("BODYSTORE_S3_SECRET_KEY", s.S3SecretKey)
	s.S3Prefix = getEnv("BODYSTORE_S3_PREFIX", s.S3Prefix)
	s.S3UsePathStyle = getEnvBool("BODYSTORE_S3_USE_PATH_STYLE", s.S3UsePathStyle)
	s.S3CreateBucket = getEnvBool("BODYSTORE_S3_CREATE_BUCKET", s.S3CreateBucket)
	s.S3UploadConcurrency = getEnvInt("BODYSTORE_S3_UPLOAD_CONCURRENCY", s.S3UploadConcurrency)

	// Flush retries
	s.MaxRetries = getEnvInt("BODYSTORE_MAX_RETRIES", s.MaxRetries)
	s.RetryBaseDelay = getEnvDuration("BODYSTORE_RETRY_BASE_DELAY", s.RetryBaseDelay)

	// Redis config
	s.RedisURL = getEnv("BODYSTORE_REDIS_URL", s.RedisURL)
	s.RedisPassword = getEnv("BODYSTORE_REDIS_PASSWORD", s.RedisPassword)
	s.RedisDB = getEnvInt("BODYSTORE_REDIS_DB", s.RedisDB)
	s.RedisMaxRetries = getEnvInt("BODYSTORE_REDIS_MAX_RETRIES", s.RedisMaxRetries)
	s.RedisPoolSize = getEnvInt("BODYSTORE_REDIS_POOL_SIZE", s.RedisPoolSize)

	// Cache config
	s.CacheEnabled = getEnvBool("BODYSTORE_CACHE_ENABLED", s.CacheEnabled)
	s.CacheTTL = getEnvDuration("BODYSTORE_CACHE_TTL", s.CacheTTL)
	s.L1CacheSize = getEnvInt("BODYSTORE_L1_CACHE_SIZE", s.L1CacheSize)
	s.CacheMaxItemBytes = getEnvInt("BODYSTORE_CACHE_MAX_ITEM_BYTES", s.CacheMaxItemBytes)
}

func (c *Config) applyRetentionEnv() {
	r := &c.Retention
	r.Default = getEnvDuration("BODYSTORE_DEFAULT_RETENTION", r.Default)
	r.PurgeEnabled = getEnvBool("BODYSTORE_PURGE_ENABLED", r.PurgeEnabled)
	r.PurgeSchedule = getEnv("BODYSTORE_PURGE_SCHEDULE", r.PurgeSchedule)
}

// applyObservabilityEnv loads observability configuration from environment
func (c *Config) applyObservabilityEnv() {
	o := &c.Observability
	o.LogLevel = getEnv("BODYSTORE_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("BODYSTORE_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("BODYSTORE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("BODYSTORE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("BODYSTORE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("BODYSTORE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("BODYSTORE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("BODYSTORE_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}

	// Validate engine config
	if c.Engine.BatchSize < 0 || c.Engine.ParallelWriters < 0 || c.Engine.IngressCapacity < 0 {
		return fmt.Errorf("engine sizes must not be negative")
	}
	if c.Engine.BatchTimeout < 0 {
		return fmt.Errorf("batch timeout must not be negative")
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	// Validate retention config
	if c.Retention.Default < 0 {
		return fmt.Errorf("default retention must not be negative")
	}
	if c.Retention.PurgeEnabled {
		if _, err := cron.ParseStandard(c.Retention.PurgeSchedule); err != nil {
			return fmt.Errorf("invalid purge schedule %q: %w", c.Retention.PurgeSchedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return errors.New("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
