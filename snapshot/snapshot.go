package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/VanDung-dev/KVCache-Engine/cache"
)

// Write dumps every entry of the adapter to w as an Arrow IPC stream
// and returns how many entries it wrote. Entries deleted while the
// snapshot runs are simply left out.
func Write(ctx context.Context, w io.Writer, adapter cache.Adapter) (int, error) {
	entries, err := collect(ctx, adapter)
	if err != nil {
		return 0, err
	}

	records, err := NewConverter().EntriesToRecords(entries)
	if err != nil {
		return 0, err
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	data, err := NewIPCWriter().SerializeToIPC(records)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(data); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return len(entries), nil
}

// Read parses an Arrow IPC stream into entries without touching any
// adapter.
func Read(r io.Reader) (map[string]*cache.Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	records, err := NewIPCWriter().DeserializeFromIPC(data)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	conv := NewConverter()
	entries := make(map[string]*cache.Entry)
	for _, rec := range records {
		if err := ValidateSchema(rec, conv.schema); err != nil {
			return nil, err
		}
		part, err := conv.RecordToEntries(rec)
		if err != nil {
			return nil, err
		}
		for key, e := range part {
			entries[key] = e
		}
	}
	return entries, nil
}

// Restore loads the entries of an IPC stream into the adapter,
// skipping entries whose TTL already passed, and returns how many
// entries it restored. Bookkeeping fields come back untouched, so
// restored entries keep their original creation and access history.
func Restore(ctx context.Context, r io.Reader, adapter cache.Adapter) (int, error) {
	entries, err := Read(r)
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	restored := 0
	for key, e := range entries {
		if e.Expired(now) {
			continue
		}
		if err := adapter.Set(ctx, key, e); err != nil {
			return restored, fmt.Errorf("restore %q: %w", key, err)
		}
		restored++
	}
	return restored, nil
}

// WriteFile writes a snapshot atomically: to a temporary file first,
// renamed over path only once complete.
func WriteFile(ctx context.Context, path string, adapter cache.Adapter) (int, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create snapshot: %w", err)
	}

	n, err := Write(ctx, f, adapter)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("finalize snapshot: %w", err)
	}
	return n, nil
}

// RestoreFile restores a snapshot from path into the adapter.
func RestoreFile(ctx context.Context, path string, adapter cache.Adapter) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	return Restore(ctx, f, adapter)
}

func collect(ctx context.Context, adapter cache.Adapter) (map[string]*cache.Entry, error) {
	keys, err := adapter.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}

	entries := make(map[string]*cache.Entry, len(keys))
	for _, key := range keys {
		e, err := adapter.Get(ctx, key)
		if err != nil {
			if errors.Is(err, cache.ErrEntryNotFound) {
				continue
			}
			return nil, fmt.Errorf("read %q: %w", key, err)
		}
		entries[key] = e
	}
	return entries, nil
}
