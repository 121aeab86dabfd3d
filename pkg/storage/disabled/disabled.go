// Package disabled provides a body store that discards writes and finds
// nothing. It is used when body capture is turned off.
package disabled

import (
	"context"

	"github.com/platinummonkey/bodystore/pkg/bodies"
)

// Store discards every batch.
type Store struct{}

// New returns a disabled store.
func New() *Store {
	return &Store{}
}

// Flush drops the batch.
func (Store) Flush(context.Context, []*bodies.WriteItem) error {
	return nil
}

// Fetch always reports not found.
func (Store) Fetch(context.Context, string) (*bodies.FetchResult, error) {
	return bodies.NotFound(), nil
}
