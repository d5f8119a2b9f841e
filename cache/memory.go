package cache

import (
	"context"
	"sync"
)

// Memory is the in-process storage adapter: a mutex-guarded map with
// no I/O. Entries are copied on the way in and out so concurrent
// readers never share bookkeeping fields; values themselves are kept
// by reference and are never deep-copied.
type Memory struct {
	entries map[string]Entry
	closed  bool
	mu      sync.RWMutex
}

// NewMemory creates an empty in-process adapter.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
	}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrAdapterClosed
	}
	e, ok := m.entries[key]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return &e, nil
}

func (m *Memory) Set(_ context.Context, key string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrAdapterClosed
	}
	m.entries[key] = *e
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, ErrAdapterClosed
	}
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrAdapterClosed
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrAdapterClosed
	}
	return len(m.entries), nil
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrAdapterClosed
	}
	n := len(m.entries)
	m.entries = make(map[string]Entry)
	return n, nil
}

// Close marks the adapter closed. Further operations return
// ErrAdapterClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
	m.closed = true
	return nil
}
