package eventsource

import (
	"context"

	"github.com/wilhg/evstate/pkg/state"
	"github.com/wilhg/evstate/pkg/store"
)

// Session is a restored store with the recorder installed. Store.Dispatch is
// not serialized against the recorder; concurrent callers must hold their own
// lock around Dispatch so persisted versions follow reducer order.
type Session[S, E any] struct {
	Store    *state.Enhanced[S, E]
	Recorder *Recorder[S, E]
	// Restored is what Restore returned at startup.
	Restored store.Snapshot[S]
}

// BootstrapOptions configures Bootstrap. The zero value is usable.
type BootstrapOptions[S, E any] struct {
	Restore  []RestoreOption[S]
	Recorder []Option
	// Middleware runs outside the recorder, in the given order.
	Middleware []state.Middleware[S, E]
	Equal      func(a, b S) bool
}

// Bootstrap restores state from es, builds a store on it and installs a
// recorder that continues at the restored version.
func Bootstrap[S, E any](ctx context.Context, es store.EventStore[S, E], reducer state.Reducer[S, E], initial S, opts BootstrapOptions[S, E]) (*Session[S, E], error) {
	restored, err := Restore(ctx, es, reducer, initial, opts.Restore...)
	if err != nil {
		return nil, err
	}
	var storeOpts []state.Option[S]
	if opts.Equal != nil {
		storeOpts = append(storeOpts, state.WithEqual(opts.Equal))
	}
	base := state.New(reducer, restored.State, storeOpts...)

	recOpts := append([]Option{WithStartVersion(restored.Version)}, opts.Recorder...)
	rec := NewRecorder[S, E](es, recOpts...)

	mws := append(append([]state.Middleware[S, E](nil), opts.Middleware...), rec.Middleware())
	return &Session[S, E]{
		Store:    state.Apply[S, E](base, mws...),
		Recorder: rec,
		Restored: restored,
	}, nil
}

// Close performs the recorder's final flush.
func (s *Session[S, E]) Close(ctx context.Context) error {
	return s.Recorder.Close(ctx)
}
