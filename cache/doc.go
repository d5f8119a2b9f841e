// Package cache provides a time-bounded, capacity-bounded key/value engine
// with pluggable storage backends.
// This package implements:
// - Thread-safe cache store over interchangeable storage adapters
// - TTL-based expiration with lazy checks and a periodic sweep
// - Batched LRU eviction when the entry count reaches capacity
// - Prefix namespacing and monotonic usage statistics
package cache
