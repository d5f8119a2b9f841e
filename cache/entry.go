package cache

import "time"

// Entry is a single cached value together with its bookkeeping fields.
// All timestamps are Unix milliseconds. An ExpiresMs of zero means the
// entry never expires.
type Entry struct {
	Value      any   `json:"value" msgpack:"value"`
	CreatedMs  int64 `json:"created_ms" msgpack:"created_ms"`
	AccessedMs int64 `json:"accessed_ms" msgpack:"accessed_ms"`
	ExpiresMs  int64 `json:"expires_ms" msgpack:"expires_ms"`
	SizeBytes  int64 `json:"size_bytes" msgpack:"size_bytes"`
}

// Expired reports whether the entry is past its expiry at the given
// wall-clock time in Unix milliseconds.
func (e *Entry) Expired(nowMs int64) bool {
	return e.ExpiresMs > 0 && nowMs >= e.ExpiresMs
}

// Touch refreshes the last-access timestamp. The expiry deadline is
// fixed at creation and is never extended here.
func (e *Entry) Touch(nowMs int64) {
	e.AccessedMs = nowMs
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
