package inline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// DefaultTable holds processed-message documents.
const DefaultTable = "processed_messages"

// PostgresLoader reads documents from a table with a JSONB metadata column
// and a bytea body column.
type PostgresLoader struct {
	db    *sql.DB
	query string
	now   func() time.Time
}

// NewPostgresLoader returns a loader reading from table, or DefaultTable
// when table is empty.
func NewPostgresLoader(db *sql.DB, table string) *PostgresLoader {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresLoader{
		db: db,
		query: fmt.Sprintf(`SELECT metadata, body, version
FROM %s
WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)`, pq.QuoteIdentifier(table)),
		now: time.Now,
	}
}

// Load implements Loader.
func (l *PostgresLoader) Load(ctx context.Context, id string) (*Document, error) {
	var (
		rawMetadata []byte
		doc         Document
	)
	err := l.db.QueryRowContext(ctx, l.query, id, l.now().UTC()).Scan(&rawMetadata, &doc.Body, &doc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &doc, nil
}
