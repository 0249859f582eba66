// Package store defines the persistence contract used by the event-sourcing
// layer: an append-only event log keyed by version and a single-slot snapshot.
//
// Two levels are exposed. EventStore is the typed facade consumed by the
// recorder and the restore procedure. RecordStore is the raw, byte-level
// contract implemented by backends (sqlstore, redisstore, memstore); Typed
// adapts one to the other through a Codec. Implementations must provide
// identical semantics across backends to support deterministic replay.
package store

import (
	"context"
)

// IdentifiedEvent is an event tagged with the version at which it was applied.
type IdentifiedEvent[E any] struct {
	ID      int64 `json:"id"`
	Payload E     `json:"payload"`
}

// Snapshot is state as of folding every event with id <= Version.
type Snapshot[S any] struct {
	State   S     `json:"state"`
	Version int64 `json:"version"`
}

// EventStore is the facade the event-sourcing layer depends on.
type EventStore[S, E any] interface {
	// SaveEvents upserts events by id as one atomic batch.
	SaveEvents(ctx context.Context, events []IdentifiedEvent[E]) error
	// SaveSnapshot replaces the stored snapshot, then prunes events with
	// id <= snap.Version. Pruning never runs before the snapshot commits.
	SaveSnapshot(ctx context.Context, snap Snapshot[S]) error
	// RestoreUnappliedEvents returns events with id > afterVersion in ascending order.
	RestoreUnappliedEvents(ctx context.Context, afterVersion int64) ([]IdentifiedEvent[E], error)
	// RestoreLatestSnapshot returns the stored snapshot; ok is false if there is none.
	RestoreLatestSnapshot(ctx context.Context) (snap Snapshot[S], ok bool, err error)
}
