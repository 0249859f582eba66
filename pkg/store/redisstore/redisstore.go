// Package redisstore implements store.RecordStore on Redis sorted sets.
//
// Events live in <prefix>:events with the event id as score; the snapshot
// lives in <prefix>:snapshots, which never holds more than one member. Writes
// run inside MULTI/EXEC so a batch is applied entirely or not at all.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/evstate/internal/connlife"
	"github.com/wilhg/evstate/pkg/errmodel"
	"github.com/wilhg/evstate/pkg/store"
)

// Store implements store.RecordStore.
type Store struct {
	opts   *redis.Options
	prefix string
	logger *zap.Logger
	conn   *connlife.Manager[*redis.Client]
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix (default "evstate").
func WithPrefix(prefix string) Option { return func(s *Store) { s.prefix = prefix } }

// WithLogger sets the logger used for connection lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New parses a redis:// URL. The client is created on first use.
func New(redisURL string, opts ...Option) (*Store, error) {
	ro, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithOptions(ro, opts...), nil
}

// NewWithOptions uses ro for every (re)connection.
func NewWithOptions(ro *redis.Options, opts ...Option) *Store {
	s := &Store{opts: ro, prefix: "evstate", logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	s.conn = connlife.New("redis", s.open, func(c *redis.Client) error { return c.Close() }, s.logger)
	return s
}

// EventsKey returns the sorted set holding events.
func EventsKey(prefix string) string { return prefix + ":events" }

// SnapshotsKey returns the sorted set holding the snapshot.
func SnapshotsKey(prefix string) string { return prefix + ":snapshots" }

func (s *Store) open(ctx context.Context) (*redis.Client, error) {
	c := redis.NewClient(s.opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// State returns the connection lifecycle state.
func (s *Store) State() connlife.State { return s.conn.State() }

// Ping opens the client if needed and checks the server responds.
func (s *Store) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func(c *redis.Client) error { return c.Ping(ctx).Err() })
}

// Close closes the cached client, if any.
func (s *Store) Close() error { return s.conn.Close() }

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "redis"))
	return otel.Tracer("store/redisstore").Start(ctx, name, trace.WithAttributes(attrs...))
}

// do runs fn with a live client and discards the client when fn fails.
func (s *Store) do(ctx context.Context, op string, fn func(c *redis.Client) error) error {
	l, err := s.conn.Acquire(ctx)
	if err != nil {
		return errmodel.Connection("connect", "redis connection unavailable", map[string]any{"op": op}, err)
	}
	if err := fn(l.Conn); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.conn.Discard(l, err)
		}
		return errmodel.Storage(op, "redis command failed", nil, err)
	}
	return nil
}

// SaveEvents upserts events by id in one MULTI/EXEC.
func (s *Store) SaveEvents(ctx context.Context, events []store.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	ctx, span := s.startSpan(ctx, "redisstore.SaveEvents", attribute.Int("events.count", len(events)))
	defer span.End()

	members := make([]redis.Z, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return errmodel.Codec("encode_event_record", "event record is not serializable", nil, err)
		}
		members = append(members, redis.Z{Score: float64(e.ID), Member: string(b)})
	}
	key := EventsKey(s.prefix)
	err := s.do(ctx, "save_events", func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, m := range members {
				id := strconv.FormatInt(events[i].ID, 10)
				pipe.ZRemRangeByScore(ctx, key, id, id)
				pipe.ZAdd(ctx, key, m)
			}
			return nil
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// SaveSnapshot replaces the snapshot in one MULTI/EXEC, then prunes covered
// events in a second one.
func (s *Store) SaveSnapshot(ctx context.Context, rec store.SnapshotRecord) error {
	ctx, span := s.startSpan(ctx, "redisstore.SaveSnapshot", attribute.Int64("snapshot.version", rec.Version))
	defer span.End()

	b, err := json.Marshal(rec)
	if err != nil {
		return errmodel.Codec("encode_snapshot_record", "snapshot record is not serializable", nil, err)
	}
	snapKey := SnapshotsKey(s.prefix)
	err = s.do(ctx, "save_snapshot", func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, snapKey)
			pipe.ZAdd(ctx, snapKey, redis.Z{Score: float64(rec.Version), Member: string(b)})
			return nil
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = s.do(ctx, "prune_events", func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, EventsKey(s.prefix), "-inf", strconv.FormatInt(rec.Version, 10))
			return nil
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// EventsAfter returns events with id > after in ascending order.
func (s *Store) EventsAfter(ctx context.Context, after int64) ([]store.EventRecord, error) {
	ctx, span := s.startSpan(ctx, "redisstore.EventsAfter", attribute.Int64("after", after))
	defer span.End()

	var raw []string
	err := s.do(ctx, "events_after", func(c *redis.Client) error {
		var err error
		raw, err = c.ZRangeByScore(ctx, EventsKey(s.prefix), &redis.ZRangeBy{
			Min: "(" + strconv.FormatInt(after, 10),
			Max: "+inf",
		}).Result()
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	out := make([]store.EventRecord, 0, len(raw))
	for _, m := range raw {
		var rec store.EventRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, errmodel.Codec("decode_event_record", "corrupt event record", nil, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// LatestSnapshot returns the highest-version snapshot, if any.
func (s *Store) LatestSnapshot(ctx context.Context) (store.SnapshotRecord, bool, error) {
	ctx, span := s.startSpan(ctx, "redisstore.LatestSnapshot")
	defer span.End()

	var raw []string
	err := s.do(ctx, "latest_snapshot", func(c *redis.Client) error {
		var err error
		raw, err = c.ZRevRange(ctx, SnapshotsKey(s.prefix), 0, 0).Result()
		return err
	})
	if err != nil {
		span.RecordError(err)
		return store.SnapshotRecord{}, false, err
	}
	if len(raw) == 0 {
		return store.SnapshotRecord{}, false, nil
	}
	var rec store.SnapshotRecord
	if err := json.Unmarshal([]byte(raw[0]), &rec); err != nil {
		return store.SnapshotRecord{}, false, errmodel.Codec("decode_snapshot_record", "corrupt snapshot record", nil, err)
	}
	return rec, true, nil
}
