// Package metrics provides Prometheus metrics for the KVCache engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine. A nil *Metrics
// is valid and records nothing, so callers never have to branch on
// whether observability is wired up.
type Metrics struct {
	// Store metrics
	HitsTotal      prometheus.Counter
	MissesTotal    prometheus.Counter
	SetsTotal      prometheus.Counter
	DeletesTotal   prometheus.Counter
	EvictionsTotal prometheus.Counter
	ExpiredTotal   prometheus.Counter

	// Entry metrics
	Entries   prometheus.Gauge
	EntrySize prometheus.Histogram

	// Maintenance metrics
	SweepDuration prometheus.Histogram

	// Server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics creates a Metrics instance under the given namespace,
// registered on reg. A nil reg falls back to the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Total number of lookups served from the cache",
		}),
		MissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Total number of lookups that found no usable entry",
		}),
		SetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sets_total",
			Help:      "Total number of successful writes",
		}),
		DeletesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletes_total",
			Help:      "Total number of entries removed by callers",
		}),
		EvictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Total number of entries evicted under capacity pressure",
		}),
		ExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expired_total",
			Help:      "Total number of entries removed because their TTL passed",
		}),

		Entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Current number of entries in the backing store",
		}),
		EntrySize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "entry_size_bytes",
			Help:      "Approximate size of written values in bytes",
			Buckets:   []float64{8, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}),

		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic expiry sweeps in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}),

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total cache server requests by operation and status",
		}, []string{"op", "status"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Cache server request duration by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
	}
}

// RecordHit records a lookup served from the cache.
func (m *Metrics) RecordHit() {
	if m == nil {
		return
	}
	m.HitsTotal.Inc()
}

// RecordMiss records a lookup that found nothing usable.
func (m *Metrics) RecordMiss() {
	if m == nil {
		return
	}
	m.MissesTotal.Inc()
}

// RecordSet records a successful write and the written value's
// approximate size.
func (m *Metrics) RecordSet(sizeBytes int64) {
	if m == nil {
		return
	}
	m.SetsTotal.Inc()
	m.EntrySize.Observe(float64(sizeBytes))
}

// RecordDeletes records n caller-initiated removals.
func (m *Metrics) RecordDeletes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeletesTotal.Add(float64(n))
}

// RecordEvictions records n entries evicted under capacity pressure.
func (m *Metrics) RecordEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EvictionsTotal.Add(float64(n))
}

// RecordExpired records n entries dropped because their TTL passed.
func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredTotal.Add(float64(n))
}

// UpdateEntryCount updates the stored-entry gauge.
func (m *Metrics) UpdateEntryCount(n int) {
	if m == nil {
		return
	}
	m.Entries.Set(float64(n))
}

// ObserveSweep records the duration of one expiry sweep.
func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

// RecordRequest records one cache server request.
func (m *Metrics) RecordRequest(op, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(op, status).Inc()
	m.RequestDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Server runs an HTTP server exposing the /metrics endpoint.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on the given address serving the
// metrics gathered by g. A nil g falls back to the default gatherer.
func NewServer(addr string, g prometheus.Gatherer) *Server {
	if g == nil {
		g = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server (blocking).
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
