package bodies

import (
	"context"
	"time"
)

// Writer accepts body writes from the ingestion pipeline.
//
// Write returns as soon as the body is queued. No backend I/O happens on the
// caller's goroutine; a nil error means "admitted", not "persisted".
type Writer interface {
	Write(ctx context.Context, id, contentType string, body []byte, expiresAt time.Time) error
}

// Flusher persists one batch to a storage backend.
//
// Implementations must be safe to call concurrently from several writer
// goroutines and must use upsert semantics so a retried batch is harmless.
// The batch slice is owned by the callee for the duration of the call.
type Flusher interface {
	Flush(ctx context.Context, batch []*WriteItem) error
}

// Reader performs point lookups of stored bodies.
//
// A missing or expired body yields a result with Found false and a nil
// error. Transport failures are returned as errors.
type Reader interface {
	Fetch(ctx context.Context, id string) (*FetchResult, error)
}

// Store is a backend that supports both sides of the pipeline.
type Store interface {
	Flusher
	Reader
}

// FlusherFunc adapts a function to the Flusher interface.
type FlusherFunc func(ctx context.Context, batch []*WriteItem) error

// Flush calls f(ctx, batch).
func (f FlusherFunc) Flush(ctx context.Context, batch []*WriteItem) error {
	return f(ctx, batch)
}
