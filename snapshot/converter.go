package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/VanDung-dev/KVCache-Engine/cache"
)

// DefaultBatchRows is how many entries go into one record batch.
const DefaultBatchRows = 4096

// Converter handles conversion between cache entries and Arrow
// record batches.
type Converter struct {
	allocator memory.Allocator
	schema    *arrow.Schema
	batchRows int
}

// NewConverter creates a Converter with the default memory allocator
// and batch size.
func NewConverter() *Converter {
	return &Converter{
		allocator: memory.DefaultAllocator,
		schema:    EntrySchema(),
		batchRows: DefaultBatchRows,
	}
}

// EntriesToRecords converts entries to one or more record batches in
// ascending key order, so snapshots of the same contents are
// byte-identical. An empty input yields a single zero-row record.
// Callers must Release the returned records.
func (c *Converter) EntriesToRecords(entries map[string]*cache.Entry) ([]arrow.Record, error) {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var records []arrow.Record
	for start := 0; ; start += c.batchRows {
		end := start + c.batchRows
		if end > len(keys) {
			end = len(keys)
		}

		record, err := c.buildRecord(keys[start:end], entries)
		if err != nil {
			for _, r := range records {
				r.Release()
			}
			return nil, err
		}
		records = append(records, record)

		if end == len(keys) {
			break
		}
	}
	return records, nil
}

func (c *Converter) buildRecord(keys []string, entries map[string]*cache.Entry) (arrow.Record, error) {
	builder := array.NewRecordBuilder(c.allocator, c.schema)
	defer builder.Release()

	keyBuilder := builder.Field(0).(*array.StringBuilder)
	valueBuilder := builder.Field(1).(*array.BinaryBuilder)
	createdBuilder := builder.Field(2).(*array.Int64Builder)
	accessedBuilder := builder.Field(3).(*array.Int64Builder)
	expiresBuilder := builder.Field(4).(*array.Int64Builder)
	sizeBuilder := builder.Field(5).(*array.Int64Builder)

	for _, key := range keys {
		e := entries[key]
		blob, err := msgpack.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode value of %q: %w", key, err)
		}

		keyBuilder.Append(key)
		valueBuilder.Append(blob)
		createdBuilder.Append(e.CreatedMs)
		accessedBuilder.Append(e.AccessedMs)
		expiresBuilder.Append(e.ExpiresMs)
		sizeBuilder.Append(e.SizeBytes)
	}

	return builder.NewRecord(), nil
}

// RecordToEntries converts one record batch back into cache entries.
func (c *Converter) RecordToEntries(record arrow.Record) (map[string]*cache.Entry, error) {
	if record == nil {
		return nil, errors.New("record is nil")
	}
	if record.NumCols() < 6 {
		return nil, fmt.Errorf("invalid record: expected at least 6 columns, got %d", record.NumCols())
	}

	// Safe type assertions with error checking
	keyCol, ok := record.Column(0).(*array.String)
	if !ok {
		return nil, errors.New("column 0 (key) is not a String array")
	}
	valueCol, ok := record.Column(1).(*array.Binary)
	if !ok {
		return nil, errors.New("column 1 (value) is not a Binary array")
	}
	createdCol, ok := record.Column(2).(*array.Int64)
	if !ok {
		return nil, errors.New("column 2 (created_ms) is not an Int64 array")
	}
	accessedCol, ok := record.Column(3).(*array.Int64)
	if !ok {
		return nil, errors.New("column 3 (accessed_ms) is not an Int64 array")
	}
	expiresCol, ok := record.Column(4).(*array.Int64)
	if !ok {
		return nil, errors.New("column 4 (expires_ms) is not an Int64 array")
	}
	sizeCol, ok := record.Column(5).(*array.Int64)
	if !ok {
		return nil, errors.New("column 5 (size_bytes) is not an Int64 array")
	}

	entries := make(map[string]*cache.Entry, record.NumRows())
	for i := int64(0); i < record.NumRows(); i++ {
		idx := int(i)
		if idx >= keyCol.Len() || idx >= valueCol.Len() {
			return nil, fmt.Errorf("index %d out of bounds for column data", idx)
		}

		var value any
		if err := msgpack.Unmarshal(valueCol.Value(idx), &value); err != nil {
			return nil, fmt.Errorf("decode value of %q: %w", keyCol.Value(idx), err)
		}

		entries[keyCol.Value(idx)] = &cache.Entry{
			Value:      value,
			CreatedMs:  createdCol.Value(idx),
			AccessedMs: accessedCol.Value(idx),
			ExpiresMs:  expiresCol.Value(idx),
			SizeBytes:  sizeCol.Value(idx),
		}
	}
	return entries, nil
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
