package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventTyper is implemented by events that expose a type discriminant.
// The type is persisted next to the payload for diagnostics.
type EventTyper interface {
	EventType() string
}

// Typed implements EventStore on top of a RecordStore.
type Typed[S, E any] struct {
	rs    RecordStore
	codec Codec[S, E]
	now   func() time.Time
}

// NewTyped adapts rs to EventStore using codec.
func NewTyped[S, E any](rs RecordStore, codec Codec[S, E]) *Typed[S, E] {
	return &Typed[S, E]{rs: rs, codec: codec, now: time.Now}
}

// Records returns the underlying record store.
func (t *Typed[S, E]) Records() RecordStore { return t.rs }

// SaveEvents implements EventStore.
func (t *Typed[S, E]) SaveEvents(ctx context.Context, events []IdentifiedEvent[E]) error {
	if len(events) == 0 {
		return nil
	}
	now := t.now().UTC()
	recs := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		payload, err := t.codec.EncodeEvent(ev.Payload)
		if err != nil {
			return err
		}
		var typ string
		if et, ok := any(ev.Payload).(EventTyper); ok {
			typ = et.EventType()
		}
		recs = append(recs, EventRecord{ID: ev.ID, Type: typ, Payload: payload, CreatedAt: now})
	}
	return t.rs.SaveEvents(ctx, recs)
}

// SaveSnapshot implements EventStore.
func (t *Typed[S, E]) SaveSnapshot(ctx context.Context, snap Snapshot[S]) error {
	data, err := t.codec.EncodeState(snap.State)
	if err != nil {
		return err
	}
	return t.rs.SaveSnapshot(ctx, SnapshotRecord{
		ID:        uuid.NewString(),
		Version:   snap.Version,
		Schema:    t.codec.Schema(),
		State:     data,
		CreatedAt: t.now().UTC(),
	})
}

// RestoreUnappliedEvents implements EventStore.
func (t *Typed[S, E]) RestoreUnappliedEvents(ctx context.Context, afterVersion int64) ([]IdentifiedEvent[E], error) {
	recs, err := t.rs.EventsAfter(ctx, afterVersion)
	if err != nil {
		return nil, err
	}
	out := make([]IdentifiedEvent[E], 0, len(recs))
	for _, r := range recs {
		ev, err := t.codec.DecodeEvent(r.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, IdentifiedEvent[E]{ID: r.ID, Payload: ev})
	}
	return out, nil
}

// RestoreLatestSnapshot implements EventStore.
func (t *Typed[S, E]) RestoreLatestSnapshot(ctx context.Context) (Snapshot[S], bool, error) {
	rec, ok, err := t.rs.LatestSnapshot(ctx)
	if err != nil || !ok {
		return Snapshot[S]{}, false, err
	}
	st, err := t.codec.DecodeState(rec.Schema, rec.State)
	if err != nil {
		return Snapshot[S]{}, false, err
	}
	return Snapshot[S]{State: st, Version: rec.Version}, true, nil
}
