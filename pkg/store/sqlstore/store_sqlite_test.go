package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/evstate/internal/connlife"
	"github.com/wilhg/evstate/pkg/errmodel"
	"github.com/wilhg/evstate/pkg/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evstate.db")
	st, err := Open(context.Background(), "sqlite:file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func eventRec(id int64, payload string) store.EventRecord {
	return store.EventRecord{ID: id, Type: "inc", Payload: json.RawMessage(payload), CreatedAt: time.Now()}
}

func ids(recs []store.EventRecord) []int64 {
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestSQLiteSaveEventsAndEventsAfter(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if err := st.SaveEvents(ctx, []store.EventRecord{eventRec(2, `{"n":2}`), eventRec(1, `{"n":1}`), eventRec(3, `{"n":3}`)}); err != nil {
		t.Fatal(err)
	}
	got, err := st.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2, 3}; !equalIDs(ids(got), want) {
		t.Fatalf("ids=%v want %v", ids(got), want)
	}
	if string(got[0].Payload) != `{"n":1}` || got[0].Type != "inc" {
		t.Fatalf("unexpected record: %+v", got[0])
	}

	after, err := st.EventsAfter(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{3}; !equalIDs(ids(after), want) {
		t.Fatalf("ids=%v want %v", ids(after), want)
	}
}

func TestSQLiteSaveEventsUpsertsByID(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveEvents(ctx, []store.EventRecord{eventRec(1, `{"v":"old"}`)}); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveEvents(ctx, []store.EventRecord{eventRec(1, `{"v":"new"}`)}); err != nil {
		t.Fatal(err)
	}
	got, err := st.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0].Payload) != `{"v":"new"}` {
		t.Fatalf("got %+v", got)
	}
}

func TestSQLiteSaveEventsLargeBatch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	batch := make([]store.EventRecord, 0, 3*insertChunk+7)
	for i := int64(1); i <= 3*insertChunk+7; i++ {
		batch = append(batch, eventRec(i, `{}`))
	}
	if err := st.SaveEvents(ctx, batch); err != nil {
		t.Fatal(err)
	}
	got, err := st.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(batch) {
		t.Fatalf("len=%d want %d", len(got), len(batch))
	}
}

func TestSQLiteSnapshotReplacesAndPrunes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, ok, err := st.LatestSnapshot(ctx); err != nil || ok {
		t.Fatalf("expected no snapshot, ok=%v err=%v", ok, err)
	}

	var batch []store.EventRecord
	for i := int64(1); i <= 6; i++ {
		batch = append(batch, eventRec(i, `{}`))
	}
	if err := st.SaveEvents(ctx, batch); err != nil {
		t.Fatal(err)
	}

	for _, v := range []int64{3, 5} {
		err := st.SaveSnapshot(ctx, store.SnapshotRecord{
			ID:        "snap",
			Version:   v,
			Schema:    2,
			State:     json.RawMessage(fmt.Sprintf(`{"count":%d}`, v)),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	snap, ok, err := st.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot ok=%v err=%v", ok, err)
	}
	if snap.Version != 5 || snap.Schema != 2 || string(snap.State) != `{"count":5}` {
		t.Fatalf("snapshot=%+v", snap)
	}

	// Only one snapshot row is ever kept.
	var n int
	err = scanAll(ctx, mustDriver(t, st), "SELECT COUNT(*) FROM snapshots", []any{}, func(rows *entsql.Rows) error {
		return rows.Scan(&n)
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("snapshot rows=%d want 1", n)
	}

	rest, err := st.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{6}; !equalIDs(ids(rest), want) {
		t.Fatalf("ids after prune=%v want %v", ids(rest), want)
	}
}

func TestSQLiteLazyOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lazy.db")
	st, err := New("sqlite:file:" + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if st.State() != connlife.Disconnected {
		t.Fatalf("state=%v want disconnected", st.State())
	}
	if _, err := st.EventsAfter(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if st.State() != connlife.Connected {
		t.Fatalf("state=%v want connected", st.State())
	}
}

func TestSQLiteReopensAfterConnectionFailure(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	if err := st.SaveEvents(ctx, []store.EventRecord{eventRec(1, `{}`)}); err != nil {
		t.Fatal(err)
	}

	// Break the cached handle underneath the store.
	_ = mustDriver(t, st).Close()

	err := st.SaveEvents(ctx, []store.EventRecord{eventRec(2, `{}`)})
	if err == nil {
		t.Fatal("expected failure on closed connection")
	}
	if !errmodel.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if st.State() != connlife.Disconnected {
		t.Fatalf("state=%v want disconnected", st.State())
	}

	if err := st.SaveEvents(ctx, []store.EventRecord{eventRec(2, `{}`)}); err != nil {
		t.Fatalf("retry after reconnect: %v", err)
	}
	got, err := st.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int64{1, 2}; !equalIDs(ids(got), want) {
		t.Fatalf("ids=%v want %v", ids(got), want)
	}
}

func TestSQLiteMigrateIsIdempotentWithPrefix(t *testing.T) {
	ctx := context.Background()
	dsn := "sqlite:file:" + filepath.Join(t.TempDir(), "shared.db")

	first, err := Open(ctx, dsn, WithTablePrefix("a_"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := first.SaveEvents(ctx, []store.EventRecord{eventRec(1, `{}`)}); err != nil {
		t.Fatal(err)
	}
	err = first.SaveSnapshot(ctx, store.SnapshotRecord{ID: "s", Version: 1, State: json.RawMessage(`{}`), CreatedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	// Reopening runs the DDL again against existing tables.
	again, err := Open(ctx, dsn, WithTablePrefix("a_"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = again.Close() })
	snap, ok, err := again.LatestSnapshot(ctx)
	if err != nil || !ok || snap.Version != 1 || snap.Schema != 0 {
		t.Fatalf("snapshot=%+v ok=%v err=%v", snap, ok, err)
	}

	other, err := Open(ctx, dsn, WithTablePrefix("b_"))
	if err != nil {
		t.Fatalf("open second prefix: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	got, err := other.EventsAfter(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("prefixed tables leaked rows: %v", ids(got))
	}
	var n int
	err = scanAll(ctx, mustDriver(t, again), `SELECT COUNT(*) FROM "a_events"`, []any{}, func(rows *entsql.Rows) error {
		return rows.Scan(&n)
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("a_events rows=%d want 0 after snapshot prune", n)
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in      string
		driver  string
		dialect string
		wantErr bool
	}{
		{in: "sqlite:file:x.db", driver: "sqlite3", dialect: "sqlite3"},
		{in: "SQLITE:", driver: "sqlite3", dialect: "sqlite3"},
		{in: "postgres://u:p@localhost:5432/db", driver: "pgx", dialect: "postgres"},
		{in: "host=localhost user=u dbname=db", driver: "pgx", dialect: "postgres"},
		{in: "mysql://u@h/db", wantErr: true},
		{in: "sqlite:file::memory:", wantErr: true},
		{in: "sqlite::memory:", wantErr: true},
		{in: "sqlite:file:x?mode=memory&cache=shared", wantErr: true},
		{in: "nonsense", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, c := range cases {
		drv, _, dia, err := parseDSN(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if drv != c.driver || dia != c.dialect {
			t.Fatalf("%q: driver=%s dialect=%s", c.in, drv, dia)
		}
	}
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
