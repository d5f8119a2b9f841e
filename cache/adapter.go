package cache

import (
	"context"
	"errors"
)

// Common errors for adapter operations
var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrAdapterClosed = errors.New("adapter is closed")
)

// Adapter is the storage capability contract the cache store runs on.
// Implementations own their internal synchronization and report
// failures as errors; retention policy (TTL, eviction, statistics)
// stays with the store.
//
// Get and Delete must distinguish "absent" from "failed": a missing
// key is ErrEntryNotFound from Get and (false, nil) from Delete.
type Adapter interface {
	// Get returns the entry stored under key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores the entry under key, overwriting any previous entry.
	Set(ctx context.Context, key string, e *Entry) error

	// Delete removes the entry under key and reports whether one existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys lists every stored key in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)

	// Clear removes all entries and returns how many were removed.
	Clear(ctx context.Context) (int, error)

	// Close releases the adapter's resources. The adapter is unusable
	// afterwards.
	Close() error
}
