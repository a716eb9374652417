package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (one JSON file per collection)
//   - "sqlite": SQLite database file (optional build tag)
//
// Path is a file prefix for the file driver (e.g. "./data/kibot" yields
// "./data/kibot.subscriptions.json") and the database path for sqlite.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the minimal persistence API used by the subscription store.
//
// Read decodes the named collection into v and reports whether the
// collection existed. Write replaces the collection atomically.
type Store interface {
	Read(ctx context.Context, collection string, v any) (bool, error)
	Write(ctx context.Context, collection string, v any) error
	Close() error
}
