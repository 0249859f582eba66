// Package backend selects a store.RecordStore from a database URL.
package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wilhg/evstate/pkg/store"
	"github.com/wilhg/evstate/pkg/store/memstore"
	"github.com/wilhg/evstate/pkg/store/redisstore"
	"github.com/wilhg/evstate/pkg/store/sqlstore"
)

// Kind names the backend a URL selects.
func Kind(databaseURL string) string {
	switch {
	case strings.HasPrefix(databaseURL, "memory:"):
		return "memory"
	case strings.HasPrefix(databaseURL, "redis://"), strings.HasPrefix(databaseURL, "rediss://"):
		return "redis"
	default:
		return "sql"
	}
}

// Open returns the record store for databaseURL and checks that it is
// reachable:
//
//	memory:                    in-process store
//	redis://host:6379/0        Redis sorted sets
//	sqlite:file:..., postgres://...  SQL tables
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (store.RecordStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := Kind(databaseURL)
	logger = logger.With(zap.String("backend", kind))
	switch kind {
	case "memory":
		return memstore.New(), nil
	case "redis":
		rs, err := redisstore.New(databaseURL, redisstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		return rs, nil
	default:
		return sqlstore.Open(ctx, databaseURL, sqlstore.WithLogger(logger))
	}
}
