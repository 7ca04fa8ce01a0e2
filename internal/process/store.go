package process

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record id is unknown to the store.
var ErrNotFound = errors.New("process record not found")

// Store is the process-record persistence contract. Every backend —
// in-memory+JSON, SQLite-indexed, or Postgres — implements the same
// surface so the rest of the runtime never branches on which is active.
type Store interface {
	Create(ctx context.Context, record *Record) error
	Update(ctx context.Context, id string, mutate func(*Record)) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]*Record, error)
	Close() error
}
