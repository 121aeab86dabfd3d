//go:build integration

package postgres

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/bodystore/pkg/bodies"
)

// setupPostgresStore starts a PostgreSQL container and opens a Store with
// the schema created.
func setupPostgresStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("bodystore_test"),
		tcpostgres.WithUsername("bodystore"),
		tcpostgres.WithPassword("bodystore_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	store, err := Open(ctx, Config{
		Connection:   ConnectionConfig{PrimaryURL: connStr, MaxConns: 5, Timeout: 10 * time.Second},
		EnsureSchema: true,
	}, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func readAll(t *testing.T, result *bodies.FetchResult) []byte {
	t.Helper()
	defer result.Body.Close()
	data, err := io.ReadAll(result.Body)
	require.NoError(t, err)
	return data
}

func TestStore_RoundTrip_Integration(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	text, err := bodies.NewWriteItem("it-text", "application/json", []byte(`{"order":42}`), expires)
	require.NoError(t, err)
	binary, err := bodies.NewWriteItem("it-binary", "", []byte{0x00, 0xff}, time.Time{})
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, []*bodies.WriteItem{text, binary}))

	result, err := store.Fetch(ctx, "it-text")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, `{"order":42}`, string(readAll(t, result)))
	assert.Equal(t, "application/json", result.ContentType)
	assert.Equal(t, "1", result.ETag)
	assert.WithinDuration(t, expires, result.ExpiresAt, time.Millisecond)

	result, err = store.Fetch(ctx, "it-binary")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, []byte{0x00, 0xff}, readAll(t, result))
	assert.Equal(t, bodies.DefaultContentType, result.ContentType)

	// A second upsert bumps the version.
	updated, err := bodies.NewWriteItem("it-text", "application/json", []byte(`{"order":43}`), expires)
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, []*bodies.WriteItem{updated}))

	result, err = store.Fetch(ctx, "it-text")
	require.NoError(t, err)
	assert.Equal(t, `{"order":43}`, string(readAll(t, result)))
	assert.Equal(t, "2", result.ETag)
}

func TestStore_NulBody_Integration(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	// valid UTF-8 with an embedded NUL, which a text column rejects
	withNul, err := bodies.NewWriteItem("it-nul", "text/plain", []byte("a\x00b"), time.Time{})
	require.NoError(t, err)
	sibling, err := bodies.NewWriteItem("it-sibling", "text/plain", []byte("plain"), time.Time{})
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, []*bodies.WriteItem{withNul, sibling}))

	result, err := store.Fetch(ctx, "it-nul")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, []byte("a\x00b"), readAll(t, result))
	assert.Equal(t, "text/plain", result.ContentType)

	result, err = store.Fetch(ctx, "it-sibling")
	require.NoError(t, err)
	require.True(t, result.Found)
	assert.Equal(t, "plain", string(readAll(t, result)))
}

func TestStore_ExpiryAndPurge_Integration(t *testing.T) {
	store := setupPostgresStore(t)
	ctx := context.Background()

	past, err := bodies.NewWriteItem("it-expired", "", []byte("old"), time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.Flush(ctx, []*bodies.WriteItem{past}))

	result, err := store.Fetch(ctx, "it-expired")
	require.NoError(t, err)
	assert.False(t, result.Found)

	purged, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}
