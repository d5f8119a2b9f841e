package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/VanDung-dev/KVCache-Engine/cache"
	"github.com/VanDung-dev/KVCache-Engine/metrics"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *metrics.Metrics

	// Every helper must be a no-op on a nil receiver.
	m.RecordHit()
	m.RecordMiss()
	m.RecordSet(128)
	m.RecordDeletes(1)
	m.RecordEvictions(1)
	m.RecordExpired(1)
	m.UpdateEntryCount(10)
	m.ObserveSweep(time.Millisecond)
	m.RecordRequest("get", "ok", time.Millisecond)
}

func TestMetricsRecordHelpers(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	m.RecordHit()
	m.RecordHit()
	m.RecordMiss()
	m.RecordSet(64)
	m.RecordDeletes(3)
	m.RecordEvictions(2)
	m.RecordExpired(5)
	m.UpdateEntryCount(42)

	if got := testutil.ToFloat64(m.HitsTotal); got != 2 {
		t.Errorf("Expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.MissesTotal); got != 1 {
		t.Errorf("Expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.SetsTotal); got != 1 {
		t.Errorf("Expected 1 set, got %v", got)
	}
	if got := testutil.ToFloat64(m.DeletesTotal); got != 3 {
		t.Errorf("Expected 3 deletes, got %v", got)
	}
	if got := testutil.ToFloat64(m.EvictionsTotal); got != 2 {
		t.Errorf("Expected 2 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ExpiredTotal); got != 5 {
		t.Errorf("Expected 5 expired, got %v", got)
	}
	if got := testutil.ToFloat64(m.Entries); got != 42 {
		t.Errorf("Expected 42 entries, got %v", got)
	}

	// Non-positive counts must not move the counters.
	m.RecordDeletes(0)
	m.RecordEvictions(-1)
	if got := testutil.ToFloat64(m.DeletesTotal); got != 3 {
		t.Errorf("Expected deletes unchanged at 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.EvictionsTotal); got != 2 {
		t.Errorf("Expected evictions unchanged at 2, got %v", got)
	}
}

func TestMetricsRequestLabels(t *testing.T) {
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	m.RecordRequest("get", "ok", 2*time.Millisecond)
	m.RecordRequest("get", "ok", 3*time.Millisecond)
	m.RecordRequest("get", "not_found", time.Millisecond)
	m.RecordRequest("set", "ok", time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get", "ok")); got != 2 {
		t.Errorf("Expected 2 ok gets, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("get", "not_found")); got != 1 {
		t.Errorf("Expected 1 not_found get, got %v", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("set", "ok")); got != 1 {
		t.Errorf("Expected 1 ok set, got %v", got)
	}
}

func TestMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("kvcache", reg)

	// Vec families only show up in Gather output after first access.
	m.RecordRequest("ping", "ok", time.Millisecond)
	m.RecordSet(8)
	m.ObserveSweep(time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 11 {
		t.Errorf("Expected 11 metric families, got %d", len(families))
	}

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"kvcache_hits_total",
		"kvcache_misses_total",
		"kvcache_sets_total",
		"kvcache_deletes_total",
		"kvcache_evictions_total",
		"kvcache_expired_total",
		"kvcache_entries",
		"kvcache_entry_size_bytes",
		"kvcache_sweep_duration_seconds",
		"kvcache_requests_total",
		"kvcache_request_duration_seconds",
	} {
		if !names[want] {
			t.Errorf("Expected %s to be registered", want)
		}
	}
}

func TestStoreMirrorsCounters(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())

	s := cache.New(cache.NewMemory(), cache.Config{
		MaxEntries:      3,
		CleanupInterval: -1,
		Metrics:         m,
	})
	defer s.Close()

	s.Set(ctx, "a", 1, 0)
	s.Set(ctx, "b", 2, 0)
	s.Set(ctx, "c", 3, 0)
	s.Get(ctx, "a")
	s.Get(ctx, "absent")
	s.Set(ctx, "d", 4, 0) // at capacity, evicts one entry first
	s.Delete(ctx, "d")

	st := s.GetStats(ctx)
	counters := []struct {
		name string
		c    prometheus.Counter
		want int64
	}{
		{"hits", m.HitsTotal, st.Hits},
		{"misses", m.MissesTotal, st.Misses},
		{"sets", m.SetsTotal, st.Sets},
		{"deletes", m.DeletesTotal, st.Deletes},
		{"evictions", m.EvictionsTotal, st.Evictions},
	}
	for _, tc := range counters {
		if got := testutil.ToFloat64(tc.c); got != float64(tc.want) {
			t.Errorf("%s: expected %d, got %v", tc.name, tc.want, got)
		}
	}

	if st.Hits != 1 || st.Misses != 1 || st.Sets != 4 || st.Deletes != 1 || st.Evictions != 1 {
		t.Errorf("Unexpected stats snapshot: %+v", st)
	}
}
