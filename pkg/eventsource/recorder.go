// Package eventsource persists a reducer store's history: a Recorder assigns
// every dispatched event a version, reserves it together with periodic
// snapshots, and flushes the reservations to a store.EventStore in the
// background. Restore rebuilds state from what was flushed.
//
// Persistence never runs on the dispatch path. Failed writes are re-queued in
// order and retried on the next flush; they are logged, never returned from
// Dispatch.
package eventsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wilhg/evstate/pkg/state"
	"github.com/wilhg/evstate/pkg/store"
)

const (
	DefaultSnapshotInterval = 100
	DefaultFlushTimeout     = 10 * time.Second
)

// Option configures a Recorder.
type Option func(*config)

type config struct {
	startVersion int64
	interval     int64
	scheduler    Scheduler
	logger       *zap.Logger
	registerer   prometheus.Registerer
	flushTimeout time.Duration
}

// WithStartVersion sets the version the next event follows, usually the
// version returned by Restore.
func WithStartVersion(v int64) Option { return func(c *config) { c.startVersion = v } }

// WithSnapshotInterval reserves a snapshot every n events. n <= 0 disables
// snapshots.
func WithSnapshotInterval(n int64) Option { return func(c *config) { c.interval = n } }

// WithScheduler sets how background flushes are scheduled.
func WithScheduler(s Scheduler) Option {
	return func(c *config) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithLogger sets the logger for flush failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRegisterer registers the recorder's Prometheus collectors on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithFlushTimeout bounds each scheduled flush.
func WithFlushTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.flushTimeout = d
		}
	}
}

// Recorder is the event-sourcing state machine behind Middleware.
type Recorder[S, E any] struct {
	es           store.EventStore[S, E]
	interval     int64
	scheduler    Scheduler
	logger       *zap.Logger
	metrics      *metrics
	flushTimeout time.Duration

	mu        sync.Mutex
	version   int64
	snapshot  *store.Snapshot[S]
	events    []store.IdentifiedEvent[E]
	scheduled bool
	closed    bool

	// flushMu keeps at most one flush in flight.
	flushMu sync.Mutex
}

// NewRecorder returns a Recorder persisting to es.
func NewRecorder[S, E any](es store.EventStore[S, E], opts ...Option) *Recorder[S, E] {
	c := config{
		interval:     DefaultSnapshotInterval,
		scheduler:    GoScheduler{},
		logger:       zap.NewNop(),
		flushTimeout: DefaultFlushTimeout,
	}
	for _, o := range opts {
		o(&c)
	}
	r := &Recorder[S, E]{
		es:           es,
		interval:     c.interval,
		scheduler:    c.scheduler,
		logger:       c.logger.With(zap.String("recorder", uuid.NewString())),
		metrics:      newMetrics(c.registerer),
		flushTimeout: c.flushTimeout,
		version:      c.startVersion,
	}
	r.metrics.version.Set(float64(r.version))
	return r
}

// Middleware records every event after the rest of the chain has applied it.
// Install it last so it sees exactly the events that reach the reducer.
//
// Reducer application and version assignment are separate critical sections.
// Callers dispatching from several goroutines must serialize Dispatch, or
// two events can be applied in one order and versioned in the other.
func (r *Recorder[S, E]) Middleware() state.Middleware[S, E] {
	return func(st state.Dispatcher[S, E]) state.Handler[E] {
		return func(event E, next state.Next[E]) E {
			out := next(event)
			r.Record(event, st.GetState())
			return out
		}
	}
}

// Record assigns event the next version, reserves it and, on a snapshot
// boundary, reserves current as the pending snapshot. A newer reservation
// replaces an unflushed older one. A flush is scheduled unless one is already
// pending.
func (r *Recorder[S, E]) Record(event E, current S) {
	r.mu.Lock()
	r.version++
	v := r.version
	reserved := false
	if r.interval > 0 && v%r.interval == 0 {
		r.snapshot = &store.Snapshot[S]{State: current, Version: v}
		reserved = true
	}
	r.events = append(r.events, store.IdentifiedEvent[E]{ID: v, Payload: event})
	pending := len(r.events)
	schedule := !r.scheduled && !r.closed
	if schedule {
		r.scheduled = true
	}
	r.mu.Unlock()

	r.metrics.recorded.Inc()
	r.metrics.version.Set(float64(v))
	r.metrics.pending.Set(float64(pending))
	if reserved {
		r.metrics.reserved.Inc()
	}
	if schedule {
		r.scheduler.Schedule(r.runScheduled)
	}
}

func (r *Recorder[S, E]) runScheduled() {
	r.mu.Lock()
	r.scheduled = false
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
	defer cancel()
	// Failures are logged and re-queued inside Flush.
	_ = r.Flush(ctx)
}

// Flush persists the reserved events, then the reserved snapshot. Each
// reservation is taken and cleared before the write so events recorded during
// the write go to a fresh batch. A failed event batch is put back in front of
// that batch; a failed snapshot is put back only if no newer one was reserved
// meanwhile.
func (r *Recorder[S, E]) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	ctx, span := otel.Tracer("eventsource").Start(ctx, "eventsource.Flush")
	defer span.End()

	var errs []error

	r.mu.Lock()
	batch := r.events
	r.events = nil
	r.mu.Unlock()

	if len(batch) > 0 {
		span.SetAttributes(attribute.Int("events.count", len(batch)),
			attribute.Int64("events.first_id", batch[0].ID),
			attribute.Int64("events.last_id", batch[len(batch)-1].ID))
		if err := r.es.SaveEvents(ctx, batch); err != nil {
			r.mu.Lock()
			r.events = append(batch, r.events...)
			pending := len(r.events)
			r.mu.Unlock()
			r.metrics.failures.WithLabelValues(kindEvents).Inc()
			r.logger.Warn("save events failed; re-queued",
				zap.Error(err), zap.Int("batch", len(batch)), zap.Int("pending", pending))
			errs = append(errs, fmt.Errorf("save events: %w", err))
		} else {
			r.metrics.flushes.WithLabelValues(kindEvents).Inc()
		}
	}

	r.mu.Lock()
	snap := r.snapshot
	r.snapshot = nil
	r.mu.Unlock()

	if snap != nil {
		span.SetAttributes(attribute.Int64("snapshot.version", snap.Version))
		if err := r.es.SaveSnapshot(ctx, *snap); err != nil {
			r.mu.Lock()
			if r.snapshot == nil {
				r.snapshot = snap
			}
			r.mu.Unlock()
			r.metrics.failures.WithLabelValues(kindSnapshot).Inc()
			r.logger.Warn("save snapshot failed", zap.Error(err), zap.Int64("version", snap.Version))
			errs = append(errs, fmt.Errorf("save snapshot %d: %w", snap.Version, err))
		} else {
			r.metrics.flushes.WithLabelValues(kindSnapshot).Inc()
			// Re-queued events up to the snapshot version are covered by it.
			r.mu.Lock()
			r.events = dropThrough(r.events, snap.Version)
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	r.metrics.pending.Set(float64(len(r.events)))
	r.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "flush failed")
	}
	return err
}

func dropThrough[E any](events []store.IdentifiedEvent[E], version int64) []store.IdentifiedEvent[E] {
	i := 0
	for i < len(events) && events[i].ID <= version {
		i++
	}
	if i == len(events) {
		return nil
	}
	return events[i:]
}

// Close stops scheduling background flushes and flushes what is reserved.
// Events recorded after Close are still reserved and can be persisted with
// an explicit Flush.
func (r *Recorder[S, E]) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.Flush(ctx)
}

// Version returns the version of the last recorded event.
func (r *Recorder[S, E]) Version() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// PendingEvents returns a copy of the reserved, unflushed events.
func (r *Recorder[S, E]) PendingEvents() []store.IdentifiedEvent[E] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.IdentifiedEvent[E](nil), r.events...)
}

// PendingSnapshot returns the reserved, unflushed snapshot.
func (r *Recorder[S, E]) PendingSnapshot() (store.Snapshot[S], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return store.Snapshot[S]{}, false
	}
	return *r.snapshot, true
}
