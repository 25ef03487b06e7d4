// Package mock provides an in-memory implementation of [history.Store] for
// tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxpipe/internal/history"
)

// Store is an in-memory history.Store that records every saved record.
type Store struct {
	mu sync.Mutex

	// SaveErr, if non-nil, is returned by Save.
	SaveErr error

	// SaveDelay holds Save for the given duration.
	SaveDelay time.Duration

	// Records holds every successfully saved record in order.
	Records []history.Record

	// Saved, if non-nil, receives every saved record.
	Saved chan history.Record

	closed bool
}

// Save implements history.Store.
func (s *Store) Save(ctx context.Context, r history.Record) error {
	if s.SaveDelay > 0 {
		select {
		case <-time.After(s.SaveDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	if s.SaveErr != nil {
		s.mu.Unlock()
		return s.SaveErr
	}
	r.ID = int64(len(s.Records) + 1)
	s.Records = append(s.Records, r)
	ch := s.Saved
	s.mu.Unlock()
	if ch != nil {
		ch <- r
	}
	return nil
}

// Recent implements history.Store.
func (s *Store) Recent(_ context.Context, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []history.Record
	for i := len(s.Records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.Records[i])
	}
	return out, nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Snapshot returns a copy of the saved records. Thread-safe.
func (s *Store) Snapshot() []history.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Record(nil), s.Records...)
}

// IsClosed reports whether Close was called.
func (s *Store) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

var _ history.Store = (*Store)(nil)
