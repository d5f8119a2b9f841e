package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// pause is long enough to give consecutive operations distinct
// millisecond timestamps, which the LRU ordering tests rely on.
const pause = 5 * time.Millisecond

func newTestStore(cfg Config) *Store {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = -1
	}
	return New(NewMemory(), cfg)
}

func TestNewDefaults(t *testing.T) {
	s := New(NewMemory(), Config{})
	defer s.Close()

	if s.cfg.MaxEntries != DefaultMaxEntries {
		t.Errorf("Expected MaxEntries %d, got %d", DefaultMaxEntries, s.cfg.MaxEntries)
	}
	if s.cfg.DefaultTTL != DefaultTTL {
		t.Errorf("Expected DefaultTTL %v, got %v", DefaultTTL, s.cfg.DefaultTTL)
	}
	if s.cfg.CleanupInterval != DefaultCleanupInterval {
		t.Errorf("Expected CleanupInterval %v, got %v", DefaultCleanupInterval, s.cfg.CleanupInterval)
	}
}

func TestStoreSetGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	if !s.Set(ctx, "user:1", "alice", 0) {
		t.Fatal("Set failed")
	}

	v, ok := s.Get(ctx, "user:1")
	if !ok {
		t.Fatal("Expected hit for user:1")
	}
	if v != "alice" {
		t.Errorf("Expected alice, got %v", v)
	}

	if _, ok := s.Get(ctx, "user:2"); ok {
		t.Error("Expected miss for user:2")
	}
}

func TestStoreGetDefault(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "k", 42, 0)

	if v := s.GetDefault(ctx, "k", -1); v != 42 {
		t.Errorf("Expected 42, got %v", v)
	}
	if v := s.GetDefault(ctx, "missing", -1); v != -1 {
		t.Errorf("Expected fallback -1, got %v", v)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "short", "v", 30*time.Millisecond)

	if _, ok := s.Get(ctx, "short"); !ok {
		t.Fatal("Expected hit before expiry")
	}

	time.Sleep(60 * time.Millisecond)

	if _, ok := s.Get(ctx, "short"); ok {
		t.Fatal("Expected miss after expiry")
	}

	// The expired entry is removed on access, not merely hidden.
	if n, err := s.adapter.Len(ctx); err != nil || n != 0 {
		t.Errorf("Expected empty adapter after lazy expiry, got %d (err %v)", n, err)
	}

	st := s.GetStats(ctx)
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d and %d", st.Hits, st.Misses)
	}
}

func TestStoreNoDefaultTTL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{DefaultTTL: -1})
	defer s.Close()

	s.Set(ctx, "forever", "v", 0)

	e, err := s.adapter.Get(ctx, "forever")
	if err != nil {
		t.Fatalf("adapter get failed: %v", err)
	}
	if e.ExpiresMs != 0 {
		t.Errorf("Expected no expiry, got %d", e.ExpiresMs)
	}
}

func TestStoreExpiryFixedAtCreation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "k", "v", 40*time.Millisecond)

	// Reads must not extend the deadline.
	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		s.Get(ctx, "k")
	}

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Expected entry to expire despite repeated reads")
	}
}

func TestStoreLRUEviction(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{MaxEntries: 3})
	defer s.Close()

	s.Set(ctx, "a", 1, 0)
	time.Sleep(pause)
	s.Set(ctx, "b", 2, 0)
	time.Sleep(pause)
	s.Set(ctx, "c", 3, 0)
	time.Sleep(pause)

	// Touch a so b becomes the least recently used.
	if _, ok := s.Get(ctx, "a"); !ok {
		t.Fatal("Expected hit for a")
	}
	time.Sleep(pause)

	s.Set(ctx, "d", 4, 0)

	if s.Has(ctx, "b") {
		t.Error("Expected b to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if !s.Has(ctx, key) {
			t.Errorf("Expected %s to survive eviction", key)
		}
	}

	st := s.GetStats(ctx)
	if st.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", st.Evictions)
	}
	if st.Size != 3 {
		t.Errorf("Expected size 3, got %d", st.Size)
	}
}

func TestStoreEvictionBatchSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{MaxEntries: 20})
	defer s.Close()

	for i := 0; i < 20; i++ {
		s.Set(ctx, fmt.Sprintf("k%02d", i), i, 0)
	}
	s.Set(ctx, "overflow", 1, 0)

	// ceil(20/10) = 2 evicted, then one insert.
	st := s.GetStats(ctx)
	if st.Evictions != 2 {
		t.Errorf("Expected 2 evictions, got %d", st.Evictions)
	}
	if st.Size != 19 {
		t.Errorf("Expected 19 entries, got %d", st.Size)
	}
}

func TestStoreHasCountsNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "k", "v", 0)
	before, err := s.adapter.Get(ctx, "k")
	if err != nil {
		t.Fatalf("adapter get failed: %v", err)
	}

	time.Sleep(pause)

	if !s.Has(ctx, "k") {
		t.Error("Expected Has to report k")
	}
	if s.Has(ctx, "missing") {
		t.Error("Expected Has to report missing as absent")
	}

	after, err := s.adapter.Get(ctx, "k")
	if err != nil {
		t.Fatalf("adapter get failed: %v", err)
	}
	if after.AccessedMs != before.AccessedMs {
		t.Error("Has must not refresh the access time")
	}

	st := s.GetStats(ctx)
	if st.Hits != 0 || st.Misses != 0 {
		t.Errorf("Has must not count lookups, got %d hits %d misses", st.Hits, st.Misses)
	}
}

func TestStoreHasDropsExpired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "short", "v", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	if s.Has(ctx, "short") {
		t.Fatal("Expected expired entry to be absent")
	}
	if n, _ := s.adapter.Len(ctx); n != 0 {
		t.Errorf("Expected adapter emptied, got %d entries", n)
	}
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "k", "v", 0)

	if !s.Delete(ctx, "k") {
		t.Error("Delete should return true for existing key")
	}
	if s.Delete(ctx, "k") {
		t.Error("Delete should return false for absent key")
	}

	st := s.GetStats(ctx)
	if st.Deletes != 1 {
		t.Errorf("Expected 1 delete, got %d", st.Deletes)
	}
}

func TestStoreGetOrSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	calls := 0
	factory := func(context.Context) (any, error) {
		calls++
		return "produced", nil
	}

	v, err := s.GetOrSet(ctx, "k", 0, factory)
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if v != "produced" {
		t.Errorf("Expected produced, got %v", v)
	}

	v, err = s.GetOrSet(ctx, "k", 0, factory)
	if err != nil {
		t.Fatalf("GetOrSet failed: %v", err)
	}
	if v != "produced" {
		t.Errorf("Expected produced, got %v", v)
	}
	if calls != 1 {
		t.Errorf("Expected factory to run once, ran %d times", calls)
	}
}

func TestStoreGetOrSetFactoryError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	wantErr := errors.New("upstream unavailable")
	_, err := s.GetOrSet(ctx, "k", 0, func(context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected factory error, got %v", err)
	}

	if s.Has(ctx, "k") {
		t.Error("Failed production must not cache anything")
	}
}

func TestStoreGetOrSetConcurrentRace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	// Without SingleFlight the check-then-produce window is real:
	// several callers may produce. All of them still get a value and
	// the cache ends up with the last write.
	var calls int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.GetOrSet(ctx, "k", 0, func(context.Context) (any, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "produced", nil
			})
			if err != nil {
				t.Errorf("GetOrSet failed: %v", err)
			}
			if v != "produced" {
				t.Errorf("Expected produced, got %v", v)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt64(&calls) < 1 {
		t.Error("Expected at least one factory call")
	}
	if v, ok := s.Get(ctx, "k"); !ok || v != "produced" {
		t.Errorf("Expected cached value after race, got %v (ok=%v)", v, ok)
	}
}

func TestStoreGetOrSetSingleFlight(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{SingleFlight: true})
	defer s.Close()

	var calls int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.GetOrSet(ctx, "k", 0, func(context.Context) (any, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return "produced", nil
			})
			if err != nil {
				t.Errorf("GetOrSet failed: %v", err)
			}
			if v != "produced" {
				t.Errorf("Expected produced, got %v", v)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("Expected exactly one factory call, got %d", n)
	}
}

func TestStoreGetManySetMany(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	results := s.SetMany(ctx, map[string]any{"a": 1, "b": 2, "c": 3}, 0)
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	for key, ok := range results {
		if !ok {
			t.Errorf("Expected set of %s to succeed", key)
		}
	}

	got := s.GetMany(ctx, []string{"a", "c", "missing"})
	if len(got) != 2 {
		t.Fatalf("Expected 2 values, got %d", len(got))
	}
	if got["a"] != 1 || got["c"] != 3 {
		t.Errorf("Unexpected values: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Error("Absent key must not appear in results")
	}
}

func TestStoreClearAll(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), i, 0)
	}

	if n := s.Clear(ctx, ""); n != 5 {
		t.Errorf("Expected 5 removed, got %d", n)
	}

	st := s.GetStats(ctx)
	if st.Size != 0 {
		t.Errorf("Expected empty store, got %d", st.Size)
	}
	if st.Deletes != 0 {
		t.Errorf("Full clear must not count as deletes, got %d", st.Deletes)
	}
}

func TestStoreClearPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "session:1", "a", 0)
	s.Set(ctx, "session:2", "b", 0)
	s.Set(ctx, "user:1", "c", 0)

	if n := s.Clear(ctx, "^session:"); n != 2 {
		t.Errorf("Expected 2 removed, got %d", n)
	}
	if !s.Has(ctx, "user:1") {
		t.Error("Expected user:1 to survive")
	}

	st := s.GetStats(ctx)
	if st.Deletes != 2 {
		t.Errorf("Pattern clear should count deletes, got %d", st.Deletes)
	}
}

func TestStoreClearBadPattern(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	s.Set(ctx, "k", "v", 0)

	if n := s.Clear(ctx, "("); n != 0 {
		t.Errorf("Expected 0 removed for invalid pattern, got %d", n)
	}
	if !s.Has(ctx, "k") {
		t.Error("Invalid pattern must remove nothing")
	}
}

func TestStoreStatsHitRate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})
	defer s.Close()

	if rate := s.GetStats(ctx).HitRate; rate != 0 {
		t.Errorf("Expected hit rate 0 before any lookup, got %f", rate)
	}

	s.Set(ctx, "k", "v", 0)
	for i := 0; i < 6; i++ {
		s.Get(ctx, "k")
	}
	for i := 0; i < 4; i++ {
		s.Get(ctx, "missing")
	}

	st := s.GetStats(ctx)
	if st.Hits != 6 || st.Misses != 4 {
		t.Fatalf("Expected 6 hits and 4 misses, got %d and %d", st.Hits, st.Misses)
	}
	if st.HitRate != 0.6 {
		t.Errorf("Expected hit rate 0.6, got %f", st.HitRate)
	}
	if st.MaxSize != DefaultMaxEntries {
		t.Errorf("Expected max size %d, got %d", DefaultMaxEntries, st.MaxSize)
	}
}

func TestStoreSweeper(t *testing.T) {
	ctx := context.Background()
	s := New(NewMemory(), Config{CleanupInterval: 20 * time.Millisecond})
	defer s.Close()

	s.Set(ctx, "short:1", "v", 30*time.Millisecond)
	s.Set(ctx, "short:2", "v", 30*time.Millisecond)
	s.Set(ctx, "long", "v", time.Hour)

	time.Sleep(120 * time.Millisecond)

	// The sweep removed expired entries with no caller involvement.
	if n, err := s.adapter.Len(ctx); err != nil || n != 1 {
		t.Errorf("Expected 1 surviving entry, got %d (err %v)", n, err)
	}

	st := s.GetStats(ctx)
	if st.Deletes != 0 || st.Evictions != 0 {
		t.Errorf("Sweep must not count deletes or evictions, got %d and %d", st.Deletes, st.Evictions)
	}
}

func TestStoreCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(Config{})

	s.Set(ctx, "k", "v", 0)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}

	// Operations against a closed store degrade to misses and
	// failed writes instead of panicking.
	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Expected miss after Close")
	}
	if s.Set(ctx, "k2", "v", 0) {
		t.Error("Expected Set to fail after Close")
	}
}

var errBackendDown = errors.New("backend down")

type faultyAdapter struct{}

func (faultyAdapter) Get(context.Context, string) (*Entry, error) { return nil, errBackendDown }
func (faultyAdapter) Set(context.Context, string, *Entry) error   { return errBackendDown }
func (faultyAdapter) Delete(context.Context, string) (bool, error) {
	return false, errBackendDown
}
func (faultyAdapter) Keys(context.Context) ([]string, error) { return nil, errBackendDown }
func (faultyAdapter) Len(context.Context) (int, error)       { return 0, errBackendDown }
func (faultyAdapter) Clear(context.Context) (int, error)     { return 0, errBackendDown }
func (faultyAdapter) Close() error                           { return nil }

func TestStoreAbsorbsAdapterFailures(t *testing.T) {
	ctx := context.Background()
	s := New(faultyAdapter{}, Config{CleanupInterval: -1})
	defer s.Close()

	if _, ok := s.Get(ctx, "k"); ok {
		t.Error("Expected miss from failing adapter")
	}
	if s.Set(ctx, "k", "v", 0) {
		t.Error("Expected Set to report failure")
	}
	if s.Delete(ctx, "k") {
		t.Error("Expected Delete to report failure")
	}
	if s.Has(ctx, "k") {
		t.Error("Expected Has to report absence")
	}
	if n := s.Clear(ctx, ""); n != 0 {
		t.Errorf("Expected Clear to remove nothing, got %d", n)
	}

	st := s.GetStats(ctx)
	if st.Misses != 1 {
		t.Errorf("Expected failed Get counted as miss, got %d", st.Misses)
	}
	if st.Sets != 0 {
		t.Errorf("Failed writes must not count as sets, got %d", st.Sets)
	}
}

func BenchmarkStoreSet(b *testing.B) {
	ctx := context.Background()
	s := New(NewMemory(), Config{MaxEntries: b.N + 1, CleanupInterval: -1})
	defer s.Close()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), i, 0)
	}
}

func BenchmarkStoreGet(b *testing.B) {
	ctx := context.Background()
	s := New(NewMemory(), Config{CleanupInterval: -1})
	defer s.Close()

	for i := 0; i < 1000; i++ {
		s.Set(ctx, fmt.Sprintf("k%d", i), i, 0)
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Get(ctx, fmt.Sprintf("k%d", i%1000))
	}
}
