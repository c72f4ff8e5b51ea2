package storage

import (
	"context"
	"errors"
	"time"
)

// ErrAlreadyExists is returned by Bootstrap when the source already has a
// persisted store. Callers fall back to Load.
var ErrAlreadyExists = errors.New("store already bootstrapped")

// Store is one source's durable, append-only record of first-seen items.
// Exactly one worker owns a given store; implementations rely on that
// single-writer discipline and do not lock across processes.
type Store interface {
	// Exists reports whether the store holds any persisted state yet.
	Exists(ctx context.Context) (bool, error)
	// Bootstrap writes the full initial record set, one record per item,
	// all stamped with at (epoch ms). Fails with ErrAlreadyExists if the
	// store was bootstrapped before.
	Bootstrap(ctx context.Context, items []string, at int64) error
	// Load returns every persisted item id.
	Load(ctx context.Context) (map[string]struct{}, error)
	// Append durably adds one record per item, stamped with at. Items
	// already persisted are skipped, so a retried append never duplicates
	// a record. State on disk is never observable half-written.
	Append(ctx context.Context, items []string, at int64) error
	// Count reports the number of persisted records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// Config selects and configures the persistence backend.
//
// Driver values:
//   - "file" (default): one pretty-printed JSON document per source under Dir
//   - "sqlite": all sources in one SQLite database at Path
type Config struct {
	Driver      string
	Dir         string        // file driver: data directory
	Path        string        // sqlite driver: database file
	BusyTimeout time.Duration // sqlite only; 0 means default
}
