package dedupe

import (
	"context"
	"errors"
	"strings"
)

// Store is the durable set of already-alerted dedupe keys. Marking is
// idempotent; implementations must survive process restarts. The poller
// checks HasSeen immediately before emission and MarkSeen immediately after,
// so a crash in between can produce one duplicate on restart. That window is
// accepted.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	HasSeen(ctx context.Context, key string) (bool, error)
	MarkSeen(ctx context.Context, key string) error
}

func NewStore(driver, dsn string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite":
		return NewSQLite(dsn)
	case "postgres", "postgresql":
		return NewPostgres(dsn)
	case "redis":
		return NewRedis(dsn)
	default:
		return nil, errors.New("unsupported dedupe driver")
	}
}
