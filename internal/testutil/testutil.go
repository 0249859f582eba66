// Package testutil holds test doubles shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/wilhg/evstate/pkg/store"
)

// ManualScheduler queues callbacks until RunPending is called.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []func()
	calls   int
}

// Schedule queues fn.
func (s *ManualScheduler) Schedule(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, fn)
	s.calls++
}

// Pending returns the number of queued callbacks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Calls returns how many times Schedule was called.
func (s *ManualScheduler) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// RunPending runs the callbacks queued so far and returns how many ran.
func (s *ManualScheduler) RunPending() int {
	s.mu.Lock()
	fns := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// ErrInjected is returned by a Flaky store for injected failures.
var ErrInjected = errors.New("testutil: injected failure")

// Flaky wraps an EventStore and fails the next N calls of a kind. Calls that
// get through are recorded.
type Flaky[S, E any] struct {
	Inner store.EventStore[S, E]

	mu             sync.Mutex
	failEvents     int
	failSnapshots  int
	savedBatches   [][]int64
	savedSnapshots []int64
	// BeforeSaveEvents and BeforeSaveSnapshot, if set, run at the start of
	// the matching call.
	BeforeSaveEvents   func()
	BeforeSaveSnapshot func()
}

// NewFlaky wraps inner.
func NewFlaky[S, E any](inner store.EventStore[S, E]) *Flaky[S, E] {
	return &Flaky[S, E]{Inner: inner}
}

// FailEvents makes the next n SaveEvents calls fail.
func (f *Flaky[S, E]) FailEvents(n int) {
	f.mu.Lock()
	f.failEvents = n
	f.mu.Unlock()
}

// FailSnapshots makes the next n SaveSnapshot calls fail.
func (f *Flaky[S, E]) FailSnapshots(n int) {
	f.mu.Lock()
	f.failSnapshots = n
	f.mu.Unlock()
}

// SavedBatches returns the ids of every successful SaveEvents batch.
func (f *Flaky[S, E]) SavedBatches() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.savedBatches...)
}

// SavedSnapshots returns the versions of every successful SaveSnapshot.
func (f *Flaky[S, E]) SavedSnapshots() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.savedSnapshots...)
}

// SaveEvents implements store.EventStore.
func (f *Flaky[S, E]) SaveEvents(ctx context.Context, events []store.IdentifiedEvent[E]) error {
	if f.BeforeSaveEvents != nil {
		f.BeforeSaveEvents()
	}
	f.mu.Lock()
	if f.failEvents > 0 {
		f.failEvents--
		f.mu.Unlock()
		return ErrInjected
	}
	f.mu.Unlock()
	if err := f.Inner.SaveEvents(ctx, events); err != nil {
		return err
	}
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.ID
	}
	f.mu.Lock()
	f.savedBatches = append(f.savedBatches, ids)
	f.mu.Unlock()
	return nil
}

// SaveSnapshot implements store.EventStore.
func (f *Flaky[S, E]) SaveSnapshot(ctx context.Context, snap store.Snapshot[S]) error {
	if f.BeforeSaveSnapshot != nil {
		f.BeforeSaveSnapshot()
	}
	f.mu.Lock()
	if f.failSnapshots > 0 {
		f.failSnapshots--
		f.mu.Unlock()
		return ErrInjected
	}
	f.mu.Unlock()
	if err := f.Inner.SaveSnapshot(ctx, snap); err != nil {
		return err
	}
	f.mu.Lock()
	f.savedSnapshots = append(f.savedSnapshots, snap.Version)
	f.mu.Unlock()
	return nil
}

// RestoreUnappliedEvents implements store.EventStore.
func (f *Flaky[S, E]) RestoreUnappliedEvents(ctx context.Context, afterVersion int64) ([]store.IdentifiedEvent[E], error) {
	return f.Inner.RestoreUnappliedEvents(ctx, afterVersion)
}

// RestoreLatestSnapshot implements store.EventStore.
func (f *Flaky[S, E]) RestoreLatestSnapshot(ctx context.Context) (store.Snapshot[S], bool, error) {
	return f.Inner.RestoreLatestSnapshot(ctx)
}
