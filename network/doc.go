// Package network provides ZeroMQ-based remote access to cache storage.
// This package implements:
// - Msgpack-encoded request/response wire envelopes
// - A cache server: ROUTER socket feeding a worker pool over a storage adapter
// - A DEALER-backed client usable as a storage adapter for remote caches
// - Shared-token authentication with constant-time comparison
package network
