package cache

import "encoding/json"

const scalarSizeBytes = 8

// approxSize estimates the in-memory footprint of a value in bytes.
// Text is counted at two bytes per character, byte slices at their
// length, structured values at two bytes per character of their JSON
// form, and everything else at a fixed scalar cost. The estimate is
// informational only and never drives eviction.
func approxSize(v any) int64 {
	switch x := v.(type) {
	case nil:
		return scalarSizeBytes
	case string:
		return 2 * int64(len([]rune(x)))
	case []byte:
		return int64(len(x))
	case bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return scalarSizeBytes
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return scalarSizeBytes
		}
		return 2 * int64(len(b))
	}
}
