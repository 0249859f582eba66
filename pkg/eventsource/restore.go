package eventsource

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wilhg/evstate/pkg/state"
	"github.com/wilhg/evstate/pkg/store"
)

// RestoreOption configures Restore.
type RestoreOption[S any] func(*restoreConfig[S])

type restoreConfig[S any] struct {
	merge  func(initial, restored S) S
	logger *zap.Logger
}

// WithMerge combines the initial state with a restored snapshot state. The
// default keeps the restored state as decoded; store.JSONCodec already fills
// missing fields from its defaults.
func WithMerge[S any](merge func(initial, restored S) S) RestoreOption[S] {
	return func(c *restoreConfig[S]) { c.merge = merge }
}

// WithRestoreLogger sets the logger used while restoring.
func WithRestoreLogger[S any](l *zap.Logger) RestoreOption[S] {
	return func(c *restoreConfig[S]) {
		if l != nil {
			c.logger = l
		}
	}
}

// Restore rebuilds state from the latest snapshot (or initial at version 0)
// by folding every later event through reducer in id order. Events whose id is
// not above the running version are skipped; they can survive next to a
// snapshot when pruning was interrupted.
func Restore[S, E any](ctx context.Context, es store.EventStore[S, E], reducer state.Reducer[S, E], initial S, opts ...RestoreOption[S]) (store.Snapshot[S], error) {
	c := restoreConfig[S]{logger: zap.NewNop()}
	for _, o := range opts {
		o(&c)
	}

	ctx, span := otel.Tracer("eventsource").Start(ctx, "eventsource.Restore")
	defer span.End()

	cur := store.Snapshot[S]{State: initial}
	latest, ok, err := es.RestoreLatestSnapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore snapshot")
		return store.Snapshot[S]{}, err
	}
	if ok {
		cur.Version = latest.Version
		cur.State = latest.State
		if c.merge != nil {
			cur.State = c.merge(initial, latest.State)
		}
	}
	span.SetAttributes(attribute.Bool("snapshot.found", ok), attribute.Int64("snapshot.version", cur.Version))

	pending, err := es.RestoreUnappliedEvents(ctx, cur.Version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore events")
		return store.Snapshot[S]{}, err
	}

	applied := 0
	for _, ev := range pending {
		if ev.ID <= cur.Version {
			c.logger.Debug("skipping stale event", zap.Int64("id", ev.ID), zap.Int64("version", cur.Version))
			continue
		}
		cur.State = reducer(cur.State, ev.Payload)
		cur.Version = ev.ID
		applied++
	}
	span.SetAttributes(attribute.Int("events.applied", applied), attribute.Int64("version", cur.Version))
	c.logger.Info("state restored",
		zap.Bool("from_snapshot", ok), zap.Int("events_applied", applied), zap.Int64("version", cur.Version))
	return cur, nil
}
