package inline

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bodystore/pkg/bodies"
)

var _ bodies.Reader = (*Store)(nil)

func TestStore_Fetch(t *testing.T) {
	docs := map[string]*Document{
		"m1": {
			Body:     []byte(`{"a":1}`),
			Metadata: map[string]interface{}{"ContentType": "application/json", "ContentLength": float64(7)},
			Version:  4,
		},
		"no-meta": {Body: []byte("raw"), Version: 1},
		"no-body": {Metadata: map[string]interface{}{"ContentType": "text/plain"}, Version: 1},
	}
	store := New(LoaderFunc(func(_ context.Context, id string) (*Document, error) {
		if id == "broken" {
			return nil, errors.New("connection refused")
		}
		return docs[id], nil
	}), nil)
	ctx := context.Background()

	t.Run("projects body and metadata", func(t *testing.T) {
		result, err := store.Fetch(ctx, "m1")
		require.NoError(t, err)
		require.True(t, result.Found)
		assert.Equal(t, "application/json", result.ContentType)
		assert.Equal(t, 7, result.BodySize)
		assert.Equal(t, "4", result.ETag)

		data, err := io.ReadAll(result.Body)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, string(data))
	})

	t.Run("defaults without metadata", func(t *testing.T) {
		result, err := store.Fetch(ctx, "no-meta")
		require.NoError(t, err)
		require.True(t, result.Found)
		assert.Equal(t, bodies.DefaultContentType, result.ContentType)
		assert.Equal(t, 3, result.BodySize)
	})

	t.Run("document without body", func(t *testing.T) {
		result, err := store.Fetch(ctx, "no-body")
		require.NoError(t, err)
		assert.False(t, result.Found)
	})

	t.Run("missing document", func(t *testing.T) {
		result, err := store.Fetch(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, result.Found)
	})

	t.Run("loader error", func(t *testing.T) {
		result, err := store.Fetch(ctx, "broken")
		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestPostgresLoader(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	query := regexp.QuoteMeta(`SELECT metadata, body, version
FROM "processed_messages"`)

	setup := func(t *testing.T) (*PostgresLoader, sqlmock.Sqlmock) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		loader := NewPostgresLoader(db, "")
		loader.now = func() time.Time { return now }
		return loader, mock
	}

	t.Run("found", func(t *testing.T) {
		loader, mock := setup(t)
		mock.ExpectQuery(query).WithArgs("m1", now).
			WillReturnRows(sqlmock.NewRows([]string{"metadata", "body", "version"}).
				AddRow([]byte(`{"ContentType":"text/plain"}`), []byte("hello"), 2))

		doc, err := loader.Load(context.Background(), "m1")
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, []byte("hello"), doc.Body)
		assert.Equal(t, "text/plain", doc.Metadata["ContentType"])
		assert.Equal(t, int64(2), doc.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		loader, mock := setup(t)
		mock.ExpectQuery(query).WillReturnRows(sqlmock.NewRows([]string{"metadata", "body", "version"}))

		doc, err := loader.Load(context.Background(), "m1")
		require.NoError(t, err)
		assert.Nil(t, doc)
	})

	t.Run("corrupt metadata", func(t *testing.T) {
		loader, mock := setup(t)
		mock.ExpectQuery(query).
			WillReturnRows(sqlmock.NewRows([]string{"metadata", "body", "version"}).
				AddRow([]byte(`{not json`), []byte("hello"), 1))

		_, err := loader.Load(context.Background(), "m1")
		assert.Error(t, err)
	})
}
