package store

import (
	"encoding/json"
	"fmt"

	"github.com/wilhg/evstate/pkg/errmodel"
)

// Codec converts states and events to and from their persisted JSON form.
type Codec[S, E any] interface {
	EncodeEvent(event E) (json.RawMessage, error)
	DecodeEvent(data json.RawMessage) (E, error)
	EncodeState(state S) (json.RawMessage, error)
	// DecodeState decodes data that was written with the given schema version.
	DecodeState(schema int, data json.RawMessage) (S, error)
	// Schema is the version new snapshots are written with.
	Schema() int
}

// Migration upgrades a persisted state document from schema n to n+1.
type Migration func(data json.RawMessage) (json.RawMessage, error)

// JSONCodec encodes with encoding/json.
//
// States are decoded on top of Defaults(), so fields missing from an older
// snapshot keep their default values: nested objects merge field by field,
// arrays and scalars are replaced. Migrations[n] is applied to documents of
// schema n before decoding, repeatedly, until CurrentSchema is reached.
type JSONCodec[S, E any] struct {
	Defaults      func() S
	CurrentSchema int
	Migrations    map[int]Migration
}

// EncodeEvent implements Codec.
func (c JSONCodec[S, E]) EncodeEvent(event E) (json.RawMessage, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, errmodel.Codec("encode_event", "event is not JSON-serializable", nil, err)
	}
	return b, nil
}

// DecodeEvent implements Codec.
func (c JSONCodec[S, E]) DecodeEvent(data json.RawMessage) (E, error) {
	var ev E
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, errmodel.Codec("decode_event", "invalid event json", nil, err)
	}
	return ev, nil
}

// EncodeState implements Codec.
func (c JSONCodec[S, E]) EncodeState(state S) (json.RawMessage, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return nil, errmodel.Codec("encode_state", "state is not JSON-serializable", nil, err)
	}
	return b, nil
}

// DecodeState implements Codec.
func (c JSONCodec[S, E]) DecodeState(schema int, data json.RawMessage) (S, error) {
	var st S
	if c.Defaults != nil {
		st = c.Defaults()
	}
	if schema > c.CurrentSchema {
		return st, errmodel.Codec("schema_ahead", "snapshot was written by a newer schema",
			map[string]any{"schema": schema, "current": c.CurrentSchema}, nil)
	}
	for v := schema; v < c.CurrentSchema; v++ {
		m, ok := c.Migrations[v]
		if !ok {
			continue
		}
		upgraded, err := m(data)
		if err != nil {
			return st, errmodel.Codec("migrate_state", fmt.Sprintf("migration from schema %d failed", v), nil, err)
		}
		data = upgraded
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, errmodel.Codec("decode_state", "invalid state json", nil, err)
	}
	return st, nil
}

// Schema implements Codec.
func (c JSONCodec[S, E]) Schema() int { return c.CurrentSchema }
