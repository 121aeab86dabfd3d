package storage

import (
	"errors"
	"fmt"
	"time"
)

// Backend types
const (
	TypePostgres = "postgres"
	TypeS3       = "s3"
	TypeInline   = "inline"
	TypeMemory   = "memory"
	TypeDisabled = "disabled"
)

// Config for storage backend
type Config struct {
	Type string `yaml:"type"` // "postgres", "s3", "inline", "memory", "disabled"

	// PostgreSQL config
	PostgresURL             string        `yaml:"postgres_url"`
	PostgresReplicaURLs     []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns        int           `yaml:"postgres_max_conns"`
	PostgresMinConns        int           `yaml:"postgres_min_conns"`
	PostgresTimeout         time.Duration `yaml:"postgres_timeout"`
	PostgresTable           string        `yaml:"postgres_table"`
	PostgresAutoMigrate     bool          `yaml:"postgres_auto_migrate"`
	PostgresReadFromPrimary bool          `yaml:"postgres_read_from_primary"`

	// Inline (read-only) config
	InlineTable string `yaml:"inline_table"`

	// S3 config
	S3Endpoint          string `yaml:"s3_endpoint"`
	S3Region            string `yaml:"s3_region"`
	S3Bucket            string `yaml:"s3_bucket"`
	S3AccessKey         string `yaml:"s3_access_key"`
	S3SecretKey         string `yaml:"s3_secret_key"`
	S3Prefix            string `yaml:"s3_prefix"`
	S3UsePathStyle      bool   `yaml:"s3_use_path_style"`
	S3CreateBucket      bool   `yaml:"s3_create_bucket"`
	S3UploadConcurrency int    `yaml:"s3_upload_concurrency"`

	// Flush retry config
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// Redis config
	RedisURL        string `yaml:"redis_url"`
	RedisPassword   string `yaml:"redis_password"`
	RedisDB         int    `yaml:"redis_db"`
	RedisMaxRetries int    `yaml:"redis_max_retries"`
	RedisPoolSize   int    `yaml:"redis_pool_size"`

	// Cache config
	CacheEnabled      bool          `yaml:"cache_enabled"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	L1CacheSize       int           `yaml:"l1_cache_size"` // entries
	CacheMaxItemBytes int           `yaml:"cache_max_item_bytes"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:                TypePostgres,
		PostgresMaxConns:    20,
		PostgresMinConns:    2,
		PostgresTimeout:     10 * time.Second,
		PostgresTable:       "message_bodies",
		PostgresAutoMigrate: true,
		InlineTable:         "processed_messages",
		S3Region:            "us-east-1",
		S3Prefix:            "bodies/",
		S3UploadConcurrency: 16,
		MaxRetries:          3,
		RetryBaseDelay:      1 * time.Second,
		RedisMaxRetries:     3,
		RedisPoolSize:       10,
		CacheEnabled:        false,
		CacheTTL:            5 * time.Minute,
		L1CacheSize:         1000,
		CacheMaxItemBytes:   256 * 1024,
	}
}

// Validate checks that the fields required by the selected backend are set.
func (c Config) Validate() error {
	var errs []error

	switch c.Type {
	case TypePostgres, TypeInline:
		if c.PostgresURL == "" {
			errs = append(errs, fmt.Errorf("postgres url is required for %s storage", c.Type))
		}
		if c.PostgresMaxConns < 0 || c.PostgresMinConns < 0 || (c.PostgresMaxConns > 0 && c.PostgresMinConns > c.PostgresMaxConns) {
			errs = append(errs, fmt.Errorf("invalid postgres pool bounds: min %d, max %d", c.PostgresMinConns, c.PostgresMaxConns))
		}
	case TypeS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for s3 storage"))
		}
		if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
			errs = append(errs, errors.New("s3 access key and secret key must be set together"))
		}
	case TypeMemory, TypeDisabled:
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Type))
	}

	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.CacheEnabled && c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cache ttl must be positive when the cache is enabled"))
	}

	return errors.Join(errs...)
}
