package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
)

const (
	// DefaultTable is the table bodies are stored in.
	DefaultTable = "message_bodies"

	// DefaultChunkSize keeps one upsert well under the 65535 bind parameter
	// limit of the wire protocol.
	DefaultChunkSize = 1000

	columnsPerRow = 6
	backendName   = "postgres"
)

// Config configures the document-store backend
type Config struct {
	Connection   ConnectionConfig
	Table        string
	ChunkSize    int
	Retry        bodies.RetryConfig
	EnsureSchema bool

	// ReadFromPrimary routes Fetch to the primary. Replica reads can miss a
	// body flushed moments ago when replication lags.
	ReadFromPrimary bool
}

// Store persists bodies as rows of a single table. Text bodies go to a
// full-text indexed column, everything else to a bytea column.
type Store struct {
	conns     *ConnectionManager
	table     string
	quoted    string
	chunkSize int
	primary   bool
	retry     *bodies.RetryPolicy
	logger    logrus.FieldLogger
	metrics   *observability.Metrics

	now func() time.Time
}

// Open connects to the database and, if configured, creates the schema.
func Open(ctx context.Context, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) (*Store, error) {
	conns, err := NewConnectionManager(cfg.Connection, logger)
	if err != nil {
		return nil, err
	}

	store := New(conns, cfg, logger, metrics)
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			conns.Close()
			return nil, err
		}
	}
	return store, nil
}

// New builds a Store on top of an existing connection manager.
func New(conns *ConnectionManager, cfg Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("backend", backendName)

	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 || chunkSize*columnsPerRow > 65535 {
		chunkSize = DefaultChunkSize
	}

	return &Store{
		conns:     conns,
		table:     table,
		quoted:    pq.QuoteIdentifier(table),
		chunkSize: chunkSize,
		primary:   cfg.ReadFromPrimary,
		retry:     bodies.NewRetryPolicy(cfg.Retry, logger),
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Connections exposes the underlying connection manager.
func (s *Store) Connections() *ConnectionManager {
	return s.conns
}

// EnsureSchema creates the body table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	content_type TEXT NOT NULL DEFAULT '',
	body_size INTEGER NOT NULL,
	body_binary BYTEA,
	body_text TEXT,
	expires_at TIMESTAMPTZ,
	version BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (expires_at)`,
			pq.QuoteIdentifier(s.table+"_expires_at_idx"), s.quoted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (to_tsvector('simple', body_text))`,
			pq.QuoteIdentifier(s.table+"_body_text_idx"), s.quoted),
	}

	for _, stmt := range statements {
		if _, err := s.conns.Primary().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure body schema: %w", err)
		}
	}
	return nil
}

// Flush upserts the batch. The whole batch is retried as a unit; upserts
// make a repeated attempt harmless.
func (s *Store) Flush(ctx context.Context, batch []*bodies.WriteItem) error {
	// One statement cannot update the same row twice.
	items := bodies.Dedupe(batch)
	if len(items) == 0 {
		return nil
	}

	ctx, span := observability.Tracer().Start(ctx, "Postgres.Flush",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.sql.table", s.table),
			attribute.Int("batch_size", len(items)),
		),
	)
	defer span.End()

	err := s.retry.Do(ctx, "postgres upsert", func(ctx context.Context) error {
		for start := 0; start < len(items); start += s.chunkSize {
			end := start + s.chunkSize
			if end > len(items) {
				end = len(items)
			}
			query, args := s.upsertStatement(items[start:end])
			if _, err := s.conns.Primary().ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("failed to upsert bodies: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return err
	}

	span.SetStatus(codes.Ok, "bodies upserted")
	return nil
}

func (s *Store) upsertStatement(items []*bodies.WriteItem) (string, []interface{}) {
	var b strings.Builder
	args := make([]interface{}, 0, len(items)*columnsPerRow)

	fmt.Fprintf(&b, "INSERT INTO %s (id, content_type, body_size, body_binary, body_text, expires_at, version, updated_at) VALUES ", s.quoted)
	for i, item := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		n := i * columnsPerRow
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, 1, now())", n+1, n+2, n+3, n+4, n+5, n+6)

		var binary, text, expires interface{}
		if t, ok := item.Text(); ok {
			text = t
		} else {
			binary = item.Body()
		}
		if !item.ExpiresAt().IsZero() {
			expires = item.ExpiresAt().UTC()
		}
		args = append(args, item.ID(), item.ContentType(), item.BodySize(), binary, text, expires)
	}
	fmt.Fprintf(&b, ` ON CONFLICT (id) DO UPDATE SET
	content_type = EXCLUDED.content_type,
	body_size = EXCLUDED.body_size,
	body_binary = EXCLUDED.body_binary,
	body_text = EXCLUDED.body_text,
	expires_at = EXCLUDED.expires_at,
	version = %s.version + 1,
	updated_at = now()`, s.quoted)

	return b.String(), args
}

// Fetch reads one body from a replica, or from the primary when
// ReadFromPrimary is set. Expired rows are reported as not found even before
// the purge removes them.
func (s *Store) Fetch(ctx context.Context, id string) (*bodies.FetchResult, error) {
	ctx, span := observability.Tracer().Start(ctx, "Postgres.Fetch",
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("body.id", id),
		),
	)
	defer span.End()

	query := fmt.Sprintf(`SELECT content_type, body_size, body_binary, body_text, version, expires_at
FROM %s
WHERE id = $1 AND (expires_at IS NULL OR expires_at > $2)`, s.quoted)

	var (
		contentType string
		size        int
		binary      []byte
		text        sql.NullString
		version     int64
		expiresAt   sql.NullTime
	)
	err := s.reader().QueryRowContext(ctx, query, id, s.now().UTC()).
		Scan(&contentType, &size, &binary, &text, &version, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.ObserveFetch(backendName, "miss")
		return bodies.NotFound(), nil
	}
	if err != nil {
		s.metrics.ObserveFetch(backendName, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("failed to fetch body %s: %w", id, err)
	}

	s.metrics.ObserveFetch(backendName, "hit")
	body := binary
	if text.Valid {
		body = []byte(text.String)
	}
	result := bodies.FoundBytes(body, contentType, strconv.FormatInt(version, 10))
	result.BodySize = size
	if expiresAt.Valid {
		result.ExpiresAt = expiresAt.Time
	}
	return result, nil
}

func (s *Store) reader() *sql.DB {
	if s.primary {
		return s.conns.Primary()
	}
	return s.conns.Replica()
}

// PurgeExpired deletes bodies whose expiry is at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.quoted)

	res, err := s.conns.Primary().ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired bodies: %w", err)
	}

	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged bodies: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PurgedTotal.Add(float64(purged))
	}
	s.logger.WithField("purged", purged).Info("Purged expired bodies")
	return purged, nil
}

// HealthCheck pings the primary and replicas.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close closes all connections.
func (s *Store) Close() error {
	return s.conns.Close()
}
