// Package state provides a generic reducer-driven state container and a
// composable middleware pipeline around its dispatch.
//
// A Store holds the current state S and applies a pure Reducer for every
// dispatched event E:
//
//	st := state.New(func(s Counter, e Inc) Counter { s.N++; return s }, Counter{})
//	st.Dispatch(Inc{})
//
// Dispatch runs synchronously: the reducer and every subscriber run on the
// caller's goroutine before Dispatch returns.
package state

import (
	"sync"
	"sync/atomic"
)

// Reducer computes the next state from the current state and an event.
// Reducers must be pure and deterministic; returning a value equal to the
// current state (see WithEqual) signals "nothing changed".
type Reducer[S, E any] func(current S, event E) S

// Dispatcher is the surface callers and middleware use to interact with a store.
type Dispatcher[S, E any] interface {
	GetState() S
	ReplaceState(next S)
	Dispatch(event E) E
	Subscribe(fn func(S)) (unsubscribe func())
}

// Option configures a Store at construction time.
type Option[S any] func(*options[S])

type options[S any] struct {
	equal func(a, b S) bool
}

// WithEqual overrides how the store decides that a new state is unchanged.
// The default compares pointers, maps, slices, channels and funcs by identity
// and other comparable values with ==.
func WithEqual[S any](eq func(a, b S) bool) Option[S] {
	return func(o *options[S]) {
		if eq != nil {
			o.equal = eq
		}
	}
}

type subscriber[S any] struct {
	fn     func(S)
	once   sync.Once
	active atomic.Bool
}

// Store is the base reducer store. It is safe for concurrent use; reducer
// application is serialized and subscribers are notified outside the lock.
type Store[S, E any] struct {
	reducer Reducer[S, E]
	equal   func(a, b S) bool

	mu    sync.Mutex
	state S
	subs  []*subscriber[S]
}

// New constructs a Store with the given reducer and initial state.
func New[S, E any](reducer Reducer[S, E], initial S, opts ...Option[S]) *Store[S, E] {
	o := options[S]{equal: Same[S]}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[S, E]{reducer: reducer, equal: o.equal, state: initial}
}

// GetState returns the current state.
func (s *Store[S, E]) GetState() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ReplaceState swaps in next and notifies subscribers, unless next is the
// same as the current state.
func (s *Store[S, E]) ReplaceState(next S) {
	subs, changed := s.swap(func(S) S { return next })
	if changed {
		notify(subs, next)
	}
}

// Dispatch applies the reducer to the current state and returns event
// unchanged. A panicking reducer propagates to the caller and leaves the
// state untouched.
func (s *Store[S, E]) Dispatch(event E) E {
	var next S
	subs, changed := s.swap(func(cur S) S {
		next = s.reducer(cur, event)
		return next
	})
	if changed {
		notify(subs, next)
	}
	return event
}

// Subscribe registers fn for state changes. The returned function removes the
// subscription and may be called any number of times.
func (s *Store[S, E]) Subscribe(fn func(S)) func() {
	sub := &subscriber[S]{fn: fn}
	sub.active.Store(true)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return func() {
		sub.once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			sub.active.Store(false)
			for i, cur := range s.subs {
				if cur == sub {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// swap computes the next state under the lock and returns a copy of the
// subscriber list to notify when the state changed.
func (s *Store[S, E]) swap(compute func(S) S) ([]*subscriber[S], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := compute(s.state)
	if s.equal(s.state, next) {
		return nil, false
	}
	s.state = next
	return append([]*subscriber[S](nil), s.subs...), true
}

func notify[S any](subs []*subscriber[S], next S) {
	for _, sub := range subs {
		// Skip subscribers removed while this round was running.
		if sub.active.Load() {
			sub.fn(next)
		}
	}
}
