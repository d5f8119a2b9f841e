package snapshot

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// EntrySchema returns the Arrow schema for a cache entry row.
//
// Fields:
//   - key: string - Store-level key, including any namespace prefix
//   - value: binary - Msgpack-encoded value payload
//   - created_ms: int64 - Creation time, Unix milliseconds
//   - accessed_ms: int64 - Last access time, Unix milliseconds
//   - expires_ms: int64 - Expiry deadline, Unix milliseconds; 0 never expires
//   - size_bytes: int64 - Approximate value size estimate
func EntrySchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "key", Type: arrow.BinaryTypes.String},
			{Name: "value", Type: arrow.BinaryTypes.Binary},
			{Name: "created_ms", Type: arrow.PrimitiveTypes.Int64},
			{Name: "accessed_ms", Type: arrow.PrimitiveTypes.Int64},
			{Name: "expires_ms", Type: arrow.PrimitiveTypes.Int64},
			{Name: "size_bytes", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}
