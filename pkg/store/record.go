package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventRecord is the persisted representation of an event.
// Payload holds the event data as JSON.
type EventRecord struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotRecord stores a materialized state up to Version.
// Schema identifies the layout State was encoded with.
type SnapshotRecord struct {
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	Schema    int             `json:"schema"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// RecordStore is the byte-level contract implemented by storage backends.
type RecordStore interface {
	// SaveEvents upserts records by ID in a single transaction.
	SaveEvents(ctx context.Context, events []EventRecord) error
	// SaveSnapshot clears the snapshot slot and stores rec in one transaction,
	// then deletes events with ID <= rec.Version in a second one.
	SaveSnapshot(ctx context.Context, rec SnapshotRecord) error
	// EventsAfter returns records with ID > after, ascending.
	EventsAfter(ctx context.Context, after int64) ([]EventRecord, error)
	// LatestSnapshot returns the stored snapshot, if any.
	LatestSnapshot(ctx context.Context) (SnapshotRecord, bool, error)
	Close() error
}
