// Package cache provides a read-through body cache with an in-process LRU
// tier and an optional shared Redis tier.
//
// Only found bodies small enough to hold in memory are cached; not-found
// results are never cached so a body becomes visible as soon as its batch is
// flushed. Flushing through the cache invalidates the flushed ids in both
// tiers. An entry never outlives the expiry of the body it holds.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
)

// ErrReadOnly is returned by Flush when the cache wraps a read-only backend.
var ErrReadOnly = errors.New("body cache wraps a read-only backend")

// Config configures the body cache
type Config struct {
	L1Size       int
	TTL          time.Duration
	MaxItemBytes int
	KeyPrefix    string
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		L1Size:       1000,
		TTL:          5 * time.Minute,
		MaxItemBytes: 256 * 1024,
		KeyPrefix:    "body:",
	}
}

type cachedBody struct {
	Body        []byte    `json:"body"`
	ContentType string    `json:"content_type"`
	ETag        string    `json:"etag"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c cachedBody) result() *bodies.FetchResult {
	result := bodies.FoundBytes(c.Body, c.ContentType, c.ETag)
	result.ExpiresAt = c.ExpiresAt
	return result
}

func (c cachedBody) live(now time.Time) bool {
	return c.ExpiresAt.IsZero() || now.Before(c.ExpiresAt)
}

// Cache decorates a backend Reader, and optionally its Flusher.
type Cache struct {
	next    bodies.Reader
	flusher bodies.Flusher
	l1      *expirable.LRU[string, cachedBody]
	redis   *redis.Client
	config  Config
	logger  logrus.FieldLogger
	metrics *observability.Metrics

	now func() time.Time
}

// New wraps next. flusher may be nil for read-only backends and client may
// be nil to run with the in-process tier only.
func New(next bodies.Reader, flusher bodies.Flusher, client *redis.Client, config Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Cache {
	defaults := DefaultConfig()
	if config.L1Size <= 0 {
		config.L1Size = defaults.L1Size
	}
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxItemBytes <= 0 {
		config.MaxItemBytes = defaults.MaxItemBytes
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaults.KeyPrefix
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Cache{
		next:    next,
		flusher: flusher,
		l1:      expirable.NewLRU[string, cachedBody](config.L1Size, nil, config.TTL),
		redis:   client,
		config:  config,
		logger:  logger.WithField("component", "body-cache"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Fetch serves id from the cache or the wrapped backend.
func (c *Cache) Fetch(ctx context.Context, id string) (*bodies.FetchResult, error) {
	now := c.now()
	if cached, ok := c.l1.Get(id); ok {
		if cached.live(now) {
			c.metrics.ObserveCache("l1", "hit")
			return cached.result(), nil
		}
		c.l1.Remove(id)
	}
	c.metrics.ObserveCache("l1", "miss")

	if cached, ok := c.getShared(ctx, id, now); ok {
		c.l1.Add(id, cached)
		return cached.result(), nil
	}

	result, err := c.next.Fetch(ctx, id)
	if err != nil || !result.Found {
		return result, err
	}
	if result.BodySize < 0 || result.BodySize > c.config.MaxItemBytes {
		return result, nil
	}
	if !result.ExpiresAt.IsZero() && !now.Before(result.ExpiresAt) {
		return result, nil
	}

	data, err := io.ReadAll(io.LimitReader(result.Body, int64(c.config.MaxItemBytes)+1))
	result.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read body %s: %w", id, err)
	}
	if len(data) > c.config.MaxItemBytes {
		// reported size was wrong; serve what we read without caching
		uncached := bodies.FoundBytes(data, result.ContentType, result.ETag)
		uncached.ExpiresAt = result.ExpiresAt
		return uncached, nil
	}

	cached := cachedBody{Body: data, ContentType: result.ContentType, ETag: result.ETag, ExpiresAt: result.ExpiresAt}
	c.l1.Add(id, cached)
	c.setShared(ctx, id, cached, now)
	return cached.result(), nil
}

// Flush delegates to the wrapped backend and then drops the batch's ids
// from both tiers, whether or not the flush succeeded.
func (c *Cache) Flush(ctx context.Context, batch []*bodies.WriteItem) error {
	if c.flusher == nil {
		return ErrReadOnly
	}

	err := c.flusher.Flush(ctx, batch)
	if invErr := c.Invalidate(ctx, bodies.IDs(batch)...); invErr != nil {
		c.logger.WithError(invErr).Warn("Failed to invalidate flushed bodies in redis")
	}
	return err
}

// Invalidate removes ids from both tiers.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		c.l1.Remove(id)
	}
	if c.redis == nil {
		return nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *Cache) key(id string) string {
	return c.config.KeyPrefix + id
}

func (c *Cache) getShared(ctx context.Context, id string, now time.Time) (cachedBody, bool) {
	if c.redis == nil {
		return cachedBody{}, false
	}

	data, err := c.redis.Get(ctx, c.key(id)).Bytes()
	if err == redis.Nil {
		c.metrics.ObserveCache("l2", "miss")
		return cachedBody{}, false
	}
	if err != nil {
		c.metrics.ObserveCache("l2", "error")
		c.logger.WithError(err).Warn("Redis body cache lookup failed")
		return cachedBody{}, false
	}

	var cached cachedBody
	if err := json.Unmarshal(data, &cached); err != nil {
		// drop corrupt entries
		c.redis.Del(ctx, c.key(id))
		c.metrics.ObserveCache("l2", "error")
		return cachedBody{}, false
	}

	if !cached.live(now) {
		c.redis.Del(ctx, c.key(id))
		c.metrics.ObserveCache("l2", "miss")
		return cachedBody{}, false
	}

	c.metrics.ObserveCache("l2", "hit")
	return cached, true
}

func (c *Cache) setShared(ctx context.Context, id string, cached cachedBody, now time.Time) {
	if c.redis == nil {
		return
	}

	ttl := c.config.TTL
	if !cached.ExpiresAt.IsZero() {
		if remaining := cached.ExpiresAt.Sub(now); remaining < ttl {
			ttl = remaining
		}
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(id), data, ttl).Err(); err != nil {
		c.logger.WithError(err).Warn("Failed to store body in redis cache")
	}
}
