// Package snapshot persists cache contents as Apache Arrow IPC streams.
// This package implements:
// - An Arrow schema describing cache entries and their bookkeeping
// - Conversion between adapter entries and Arrow record batches
// - IPC serialization for files and byte transfer
// - Restore with expiry filtering, so stale entries never come back
package snapshot
