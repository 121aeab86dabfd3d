// Package memory provides an in-process body store for development and
// tests. Contents are lost on restart.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/bodystore/pkg/bodies"
)

type entry struct {
	item    *bodies.WriteItem
	version int64
}

// Store keeps the latest version of each body in a map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Flush upserts every body of the batch.
func (s *Store) Flush(ctx context.Context, batch []*bodies.WriteItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range batch {
		prev := s.entries[item.ID()]
		s.entries[item.ID()] = entry{item: item, version: prev.version + 1}
	}
	return nil
}

// Fetch returns the stored body unless it is missing or expired.
func (s *Store) Fetch(ctx context.Context, id string) (*bodies.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || isExpired(e.item, s.now()) {
		return bodies.NotFound(), nil
	}
	result := bodies.FoundBytes(e.item.Body(), e.item.ContentType(), strconv.FormatInt(e.version, 10))
	result.ExpiresAt = e.item.ExpiresAt()
	return result, nil
}

// PurgeExpired removes expired bodies and reports how many were removed.
func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, e := range s.entries {
		if isExpired(e.item, now) {
			delete(s.entries, id)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored bodies, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func isExpired(item *bodies.WriteItem, now time.Time) bool {
	expires := item.ExpiresAt()
	return !expires.IsZero() && !now.Before(expires)
}
