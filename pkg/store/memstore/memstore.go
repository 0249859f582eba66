// Package memstore is an in-process store.RecordStore with the same ordering
// and pruning semantics as the durable backends. Data lives only as long as
// the Store value.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/wilhg/evstate/pkg/store"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memstore: closed")

// Store implements store.RecordStore in memory.
type Store struct {
	mu       sync.RWMutex
	events   map[int64]store.EventRecord
	snapshot *store.SnapshotRecord
	closed   bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{events: map[int64]store.EventRecord{}}
}

// SaveEvents upserts events by id.
func (s *Store) SaveEvents(ctx context.Context, events []store.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, e := range events {
		e.Payload = slices.Clone(e.Payload)
		s.events[e.ID] = e
	}
	return nil
}

// SaveSnapshot replaces the snapshot, then drops events with id <= rec.Version.
func (s *Store) SaveSnapshot(ctx context.Context, rec store.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.State = slices.Clone(rec.State)
	s.snapshot = &rec
	for id := range s.events {
		if id <= rec.Version {
			delete(s.events, id)
		}
	}
	return nil
}

// EventsAfter returns events with id > after in ascending order.
func (s *Store) EventsAfter(ctx context.Context, after int64) ([]store.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]store.EventRecord, 0, len(s.events))
	for id, e := range s.events {
		if id > after {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b store.EventRecord) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// LatestSnapshot returns the stored snapshot, if any.
func (s *Store) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.SnapshotRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.SnapshotRecord{}, false, ErrClosed
	}
	if s.snapshot == nil {
		return store.SnapshotRecord{}, false, nil
	}
	return *s.snapshot, true, nil
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
