package cache

import (
	"context"
	"strings"
	"time"
)

const namespaceSeparator = ":"

// Namespace is a prefixed view of a Store. Every operation rewrites
// keys as "<prefix>:<key>" before delegating, which keeps keyspaces
// disjoint without any bookkeeping of its own. Capacity, eviction and
// statistics stay store-wide; a namespace is a naming convention, not
// a partition.
type Namespace struct {
	store  *Store
	prefix string
}

// Key returns the store-level key a namespaced key maps to.
func (n *Namespace) Key(key string) string {
	return n.prefix + key
}

// Get returns the value stored under key within the namespace.
func (n *Namespace) Get(ctx context.Context, key string) (any, bool) {
	return n.store.Get(ctx, n.prefix+key)
}

// GetDefault returns the value stored under key, or def on any miss.
func (n *Namespace) GetDefault(ctx context.Context, key string, def any) any {
	return n.store.GetDefault(ctx, n.prefix+key, def)
}

// Set stores value under key within the namespace.
func (n *Namespace) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	return n.store.Set(ctx, n.prefix+key, value, ttl)
}

// Delete removes the entry under key within the namespace.
func (n *Namespace) Delete(ctx context.Context, key string) bool {
	return n.store.Delete(ctx, n.prefix+key)
}

// Has reports whether a live entry exists under key within the
// namespace.
func (n *Namespace) Has(ctx context.Context, key string) bool {
	return n.store.Has(ctx, n.prefix+key)
}

// GetOrSet returns the value under key, producing and storing it with
// the factory on a miss.
func (n *Namespace) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (any, error)) (any, error) {
	return n.store.GetOrSet(ctx, n.prefix+key, ttl, factory)
}

// GetMany looks up all keys concurrently. Result keys are the
// caller's unprefixed keys.
func (n *Namespace) GetMany(ctx context.Context, keys []string) map[string]any {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = n.prefix + key
	}

	raw := n.store.GetMany(ctx, prefixed)
	results := make(map[string]any, len(raw))
	for key, v := range raw {
		results[strings.TrimPrefix(key, n.prefix)] = v
	}
	return results
}

// SetMany stores all entries concurrently with a shared TTL and
// reports per-key success under the caller's unprefixed keys.
func (n *Namespace) SetMany(ctx context.Context, entries map[string]any, ttl time.Duration) map[string]bool {
	prefixed := make(map[string]any, len(entries))
	for key, v := range entries {
		prefixed[n.prefix+key] = v
	}

	raw := n.store.SetMany(ctx, prefixed, ttl)
	results := make(map[string]bool, len(raw))
	for key, ok := range raw {
		results[strings.TrimPrefix(key, n.prefix)] = ok
	}
	return results
}

// Clear removes entries within the namespace and returns how many
// were removed. The pattern, when present, is matched against the
// unprefixed key remainder; entries outside the namespace are never
// touched.
func (n *Namespace) Clear(ctx context.Context, pattern string) int {
	return n.store.clearScoped(ctx, n.prefix, pattern)
}

// GetStats returns the underlying store's statistics. Counters are
// shared across all namespaces of the store.
func (n *Namespace) GetStats(ctx context.Context) Stats {
	return n.store.GetStats(ctx)
}

// Namespace returns a nested view under this namespace's prefix.
func (n *Namespace) Namespace(prefix string) *Namespace {
	return &Namespace{store: n.store, prefix: n.prefix + prefix + namespaceSeparator}
}
