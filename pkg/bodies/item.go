package bodies

import (
	"bytes"
	"fmt"
	"io"
	"time"
	"unicode/utf8"
)

// DefaultContentType is reported for stored bodies that carry no content type.
const DefaultContentType = "application/octet-stream"

// WriteItem describes one pending body write.
//
// A WriteItem is immutable once created. The pipeline owns it from enqueue
// until a flush consumes it, after which it is discarded.
type WriteItem struct {
	id          string
	contentType string
	bodySize    int
	body        []byte
	textBody    string
	hasText     bool
	expiresAt   time.Time
}

// NewWriteItem builds a WriteItem from a caller supplied body.
//
// The body is copied so that the caller may reuse its buffer as soon as the
// call returns. A text projection is attached only when the bytes are valid
// UTF-8 and hold no NUL byte, since text columns cannot store 0x00.
func NewWriteItem(id, contentType string, body []byte, expiresAt time.Time) (*WriteItem, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: body id is required", ErrInvalidItem)
	}

	item := &WriteItem{
		id:          id,
		contentType: contentType,
		bodySize:    len(body),
		body:        bytes.Clone(body),
		expiresAt:   expiresAt,
	}
	if item.body == nil {
		item.body = []byte{}
	}

	if utf8.Valid(item.body) && bytes.IndexByte(item.body, 0) < 0 {
		item.textBody = string(item.body)
		item.hasText = true
	}

	return item, nil
}

// ID returns the stable identity of the body, typically a message id.
func (w *WriteItem) ID() string { return w.id }

// ContentType returns the content type supplied at creation.
func (w *WriteItem) ContentType() string { return w.contentType }

// BodySize returns the size of the body in bytes.
func (w *WriteItem) BodySize() int { return w.bodySize }

// Body returns the raw body bytes. Callers must not modify the returned slice.
func (w *WriteItem) Body() []byte { return w.body }

// Text returns the decoded UTF-8 body and whether one exists.
func (w *WriteItem) Text() (string, bool) { return w.textBody, w.hasText }

// ExpiresAt returns the moment after which the body may be discarded.
func (w *WriteItem) ExpiresAt() time.Time { return w.expiresAt }

// Reader returns a fresh reader over the body bytes.
func (w *WriteItem) Reader() io.Reader { return bytes.NewReader(w.body) }

// FetchResult is the outcome of a point lookup.
//
// A result with Found false never carries a Body.
type FetchResult struct {
	Found       bool
	Body        io.ReadCloser
	ContentType string
	BodySize    int
	ETag        string

	// ExpiresAt is when the body stops being readable. Zero means never or
	// unknown to the backend.
	ExpiresAt time.Time
}

// NotFound returns a result describing a missing or expired body.
func NotFound() *FetchResult {
	return &FetchResult{}
}

// Found builds a found result, applying the default content type when the
// stored one is empty.
func Found(body io.ReadCloser, contentType string, size int, etag string) *FetchResult {
	if contentType == "" {
		contentType = DefaultContentType
	}
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return &FetchResult{
		Found:       true,
		Body:        body,
		ContentType: contentType,
		BodySize:    size,
		ETag:        etag,
	}
}

// FoundBytes is Found for bodies already held in memory.
func FoundBytes(body []byte, contentType string, etag string) *FetchResult {
	return Found(io.NopCloser(bytes.NewReader(body)), contentType, len(body), etag)
}
