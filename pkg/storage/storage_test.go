package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/storage/cache"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) {}, "postgres url is required"},
		{"postgres ok", func(c *Config) { c.PostgresURL = "postgres://localhost/bodies" }, ""},
		{"inline without url", func(c *Config) { c.Type = TypeInline }, "postgres url is required"},
		{"bad pool bounds", func(c *Config) {
			c.PostgresURL = "postgres://localhost/bodies"
			c.PostgresMinConns = 50
		}, "invalid postgres pool bounds"},
		{"s3 without bucket", func(c *Config) { c.Type = TypeS3 }, "s3 bucket is required"},
		{"s3 half credentials", func(c *Config) {
			c.Type = TypeS3
			c.S3Bucket = "bodies"
			c.S3AccessKey = "key"
		}, "must be set together"},
		{"memory", func(c *Config) { c.Type = TypeMemory }, ""},
		{"disabled", func(c *Config) { c.Type = TypeDisabled }, ""},
		{"unknown", func(c *Config) { c.Type = "mongo" }, `unknown storage type "mongo"`},
		{"negative retries", func(c *Config) {
			c.Type = TypeMemory
			c.MaxRetries = -1
		}, "max retries"},
		{"cache without ttl", func(c *Config) {
			c.Type = TypeMemory
			c.CacheEnabled = true
			c.CacheTTL = 0
		}, "cache ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpen_Memory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Type = TypeMemory

	backend, err := Open(context.Background(), cfg, logger, nil)
	require.NoError(t, err)
	defer backend.Close()

	assert.Equal(t, TypeMemory, backend.Name)
	assert.False(t, backend.ReadOnly())
	assert.NotNil(t, backend.Purger)

	item, err := bodies.NewWriteItem("m1", "text/plain", []byte("hi"), time.Time{})
	require.NoError(t, err)
	require.NoError(t, backend.Flusher.Flush(context.Background(), []*bodies.WriteItem{item}))

	result, err := backend.Reader.Fetch(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, result.Found)
}

func TestOpen_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = TypeDisabled

	backend, err := Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, backend.Purger)
	assert.Empty(t, backend.HealthChecks)
	assert.NoError(t, backend.Close())
}

func TestOpen_WithCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Type = TypeMemory
	cfg.CacheEnabled = true
	cfg.RedisURL = "redis://" + mr.Addr()

	backend, err := Open(context.Background(), cfg, logger, nil)
	require.NoError(t, err)
	defer backend.Close()

	assert.IsType(t, &cache.Cache{}, backend.Reader)
	assert.IsType(t, &cache.Cache{}, backend.Flusher)
	require.Len(t, backend.HealthChecks, 1)
	assert.Equal(t, "redis", backend.HealthChecks[0].Name)
	assert.False(t, backend.HealthChecks[0].Critical)
	assert.NoError(t, backend.HealthChecks[0].Check(context.Background()))
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Type = "mongo"

	backend, err := Open(context.Background(), cfg, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, backend)
}
