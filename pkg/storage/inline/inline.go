// Package inline serves bodies that were persisted as part of another
// document, typically the processed-message record. It is read-only: such
// bodies are never written through the body pipeline.
package inline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/bodystore/pkg/bodies"
	"github.com/platinummonkey/bodystore/pkg/observability"
)

const backendName = "inline"

// Metadata keys consulted for the content type and size, in order.
var (
	contentTypeKeys   = []string{"ContentType", "content_type", "Content-Type"}
	contentLengthKeys = []string{"ContentLength", "content_length", "Content-Length"}
)

// Document is the stored record a body is projected from.
type Document struct {
	Body     []byte
	Metadata map[string]interface{}
	Version  int64
}

// Loader looks up the document holding a body. It returns nil and no error
// when there is none.
type Loader interface {
	Load(ctx context.Context, id string) (*Document, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, id string) (*Document, error)

// Load calls f(ctx, id).
func (f LoaderFunc) Load(ctx context.Context, id string) (*Document, error) {
	return f(ctx, id)
}

// Store implements bodies.Reader on top of a Loader.
type Store struct {
	loader  Loader
	metrics *observability.Metrics
}

// New returns a read-only store.
func New(loader Loader, metrics *observability.Metrics) *Store {
	return &Store{loader: loader, metrics: metrics}
}

// Fetch projects the body out of its document.
func (s *Store) Fetch(ctx context.Context, id string) (*bodies.FetchResult, error) {
	doc, err := s.loader.Load(ctx, id)
	if err != nil {
		s.metrics.ObserveFetch(backendName, "error")
		return nil, fmt.Errorf("failed to load document for body %s: %w", id, err)
	}
	if doc == nil || doc.Body == nil {
		s.metrics.ObserveFetch(backendName, "miss")
		return bodies.NotFound(), nil
	}

	s.metrics.ObserveFetch(backendName, "hit")
	result := bodies.FoundBytes(doc.Body, stringValue(doc.Metadata, contentTypeKeys), strconv.FormatInt(doc.Version, 10))
	if size, ok := intValue(doc.Metadata, contentLengthKeys); ok {
		result.BodySize = size
	}
	return result, nil
}

func stringValue(metadata map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if v, ok := metadata[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intValue(metadata map[string]interface{}, keys []string) (int, bool) {
	for _, key := range keys {
		switch v := metadata[key].(type) {
		case float64:
			return int(v), true
		case int:
			return v, true
		case int64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(v); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}
