package sqlstore

import (
	"context"
	"testing"

	entsql "entgo.io/ent/dialect/sql"
)

// mustDriver returns the store's cached driver, opening it if needed.
func mustDriver(t *testing.T, st *Store) *entsql.Driver {
	t.Helper()
	l, err := st.conn.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return l.Conn
}
