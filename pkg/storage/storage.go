package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
	"github.com/platinummonkey/bodystore/pkg/storage/cache"
	"github.com/platinummonkey/bodystore/pkg/storage/disabled"
	"github.com/platinummonkey/bodystore/pkg/storage/inline"
	"github.com/platinummonkey/bodystore/pkg/storage/memory"
	"github.com/platinummonkey/bodystore/pkg/storage/postgres"
	"github.com/platinummonkey/bodystore/pkg/storage/s3"
)

// Purger deletes expired bodies.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// HealthCheck is a named dependency probe contributed by a backend.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    observability.CheckFunc
}

// Backend is an opened storage backend.
type Backend struct {
	Name string

	// Reader serves point lookups.
	Reader bodies.Reader
	// Flusher persists batches. It is nil for read-only backends.
	Flusher bodies.Flusher
	// Purger removes expired bodies. It is nil when the backend expires
	// bodies on its own or not at all.
	Purger Purger

	HealthChecks []HealthCheck

	closers []func() error
}

// ReadOnly reports whether the backend accepts no writes.
func (b *Backend) ReadOnly() bool {
	return b.Flusher == nil
}

// Close releases every connection held by the backend.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open validates cfg and opens the selected backend, wrapped in the body
// cache when enabled.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	retry := bodies.RetryConfig{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay,
	}
	b := &Backend{Name: cfg.Type}

	switch cfg.Type {
	case TypePostgres:
		store, err := postgres.Open(ctx, postgres.Config{
			Connection:      connectionConfig(cfg),
			Table:           cfg.PostgresTable,
			Retry:           retry,
			EnsureSchema:    cfg.PostgresAutoMigrate,
			ReadFromPrimary: cfg.PostgresReadFromPrimary,
		}, logger, metrics)
		if err != nil {
			return nil, err
		}
		b.Reader, b.Flusher, b.Purger = store, store, store
		b.HealthChecks = append(b.HealthChecks, HealthCheck{Name: "postgres", Critical: true, Check: store.HealthCheck})
		b.closers = append(b.closers, store.Close)

	case TypeInline:
		conns, err := postgres.NewConnectionManager(connectionConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		b.Reader = inline.New(inline.NewPostgresLoader(conns.Primary(), cfg.InlineTable), metrics)
		b.HealthChecks = append(b.HealthChecks, HealthCheck{Name: "postgres", Critical: true, Check: conns.HealthCheck})
		b.closers = append(b.closers, conns.Close)

	case TypeS3:
		store, err := s3.Open(ctx, s3.Config{
			Endpoint:          cfg.S3Endpoint,
			Region:            cfg.S3Region,
			Bucket:            cfg.S3Bucket,
			AccessKey:         cfg.S3AccessKey,
			SecretKey:         cfg.S3SecretKey,
			Prefix:            cfg.S3Prefix,
			UsePathStyle:      cfg.S3UsePathStyle,
			UploadConcurrency: cfg.S3UploadConcurrency,
			CreateBucket:      cfg.S3CreateBucket,
			Retry:             retry,
		}, logger, metrics)
		if err != nil {
			return nil, err
		}
		b.Reader, b.Flusher = store, store
		b.HealthChecks = append(b.HealthChecks, HealthCheck{Name: "s3", Critical: true, Check: store.HealthCheck})

	case TypeMemory:
		store := memory.New()
		b.Reader, b.Flusher, b.Purger = store, store, store

	case TypeDisabled:
		store := disabled.New()
		b.Reader, b.Flusher = store, store
	}

	if cfg.CacheEnabled {
		if err := b.wrapCache(ctx, cfg, logger, metrics); err != nil {
			b.Close()
			return nil, err
		}
	}

	logger.WithFields(logrus.Fields{
		"backend":   b.Name,
		"read_only": b.ReadOnly(),
		"cache":     cfg.CacheEnabled,
	}).Info("Body storage backend opened")

	return b, nil
}

func (b *Backend) wrapCache(ctx context.Context, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) error {
	var client *redis.Client
	if cfg.RedisURL != "" {
		var err error
		client, err = cache.NewRedisClient(ctx, cache.RedisConfig{
			URL:        cfg.RedisURL,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			MaxRetries: cfg.RedisMaxRetries,
			PoolSize:   cfg.RedisPoolSize,
		})
		if err != nil {
			return err
		}
		b.HealthChecks = append(b.HealthChecks, HealthCheck{Name: "redis", Critical: false, Check: observability.RedisCheck(client)})
		b.closers = append(b.closers, client.Close)
	}

	c := cache.New(b.Reader, b.Flusher, client, cache.Config{
		L1Size:       cfg.L1CacheSize,
		TTL:          cfg.CacheTTL,
		MaxItemBytes: cfg.CacheMaxItemBytes,
	}, logger, metrics)

	b.Reader = c
	if b.Flusher != nil {
		b.Flusher = c
	}
	return nil
}

func connectionConfig(cfg Config) postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  cfg.PostgresURL,
		ReplicaURLs: cfg.PostgresReplicaURLs,
		MaxConns:    cfg.PostgresMaxConns,
		MinConns:    cfg.PostgresMinConns,
		Timeout:     cfg.PostgresTimeout,
		MaxLifetime: time.Hour,
		MaxIdleTime: 10 * time.Minute,
	}
}
