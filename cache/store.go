package cache

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/singleflight"

	"github.com/VanDung-dev/KVCache-Engine/metrics"
)

// Default configuration values
const (
	DefaultMaxEntries      = 1000
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
)

// Config controls store policy. The zero value is not useful on its
// own; New fills unset fields from the defaults above.
type Config struct {
	// MaxEntries is the capacity ceiling. A write that would pass it
	// triggers a batched LRU eviction first.
	MaxEntries int

	// DefaultTTL applies to writes that do not carry their own TTL.
	// Negative disables the default, so such entries never expire.
	DefaultTTL time.Duration

	// CleanupInterval is the period of the background expiry sweep.
	// Negative disables the sweep; expired entries are then only
	// dropped lazily on access.
	CleanupInterval time.Duration

	// SingleFlight collapses concurrent GetOrSet calls for the same
	// key into one factory invocation. Off by default, which keeps
	// the cheaper check-then-produce behavior where concurrent
	// callers may each run the factory.
	SingleFlight bool

	// Logger receives recovered adapter failures and maintenance
	// events. Defaults to a nop logger.
	Logger log.Logger

	// Metrics optionally mirrors store activity to Prometheus.
	Metrics *metrics.Metrics
}

// DefaultConfig returns the stock store configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      DefaultMaxEntries,
		DefaultTTL:      DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Store is a TTL and capacity bounded cache on top of exactly one
// storage adapter. The store owns retention policy and statistics;
// the adapter owns persistence and its internal locking.
//
// Storage failures never escape: a failed read counts as a miss, a
// failed write reports false, and the error is logged. Close stops
// the background sweep and closes the adapter.
type Store struct {
	adapter Adapter
	cfg     Config
	logger  log.Logger
	metrics *metrics.Metrics
	stats   counters
	group   singleflight.Group

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a Store over the given adapter and starts the expiry
// sweep unless the configured interval disables it. The store takes
// ownership of the adapter.
func New(adapter Adapter, cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		adapter: adapter,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}

	if cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.sweeper(cfg.CleanupInterval)
	}

	return s
}

// Get returns the value stored under key. The second result is false
// when the key is absent, expired, or the adapter failed. A hit
// refreshes the entry's last-access time.
func (s *Store) Get(ctx context.Context, key string) (any, bool) {
	e, ok := s.lookup(ctx, key, true)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// GetDefault returns the value stored under key, or def on any miss.
func (s *Store) GetDefault(ctx context.Context, key string, def any) any {
	if v, ok := s.Get(ctx, key); ok {
		return v
	}
	return def
}

// lookup fetches key and applies expiry. When counted is true it also
// updates hit/miss statistics and refreshes the last-access time.
func (s *Store) lookup(ctx context.Context, key string, counted bool) (*Entry, bool) {
	e, err := s.adapter.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrEntryNotFound) {
			level.Warn(s.logger).Log("msg", "adapter get failed", "key", key, "err", err)
		}
		if counted {
			s.miss()
		}
		return nil, false
	}

	now := nowMs()
	if e.Expired(now) {
		if _, err := s.adapter.Delete(ctx, key); err != nil {
			level.Warn(s.logger).Log("msg", "adapter delete of expired entry failed", "key", key, "err", err)
		}
		s.metrics.RecordExpired(1)
		if counted {
			s.miss()
		}
		return nil, false
	}

	if counted {
		e.Touch(now)
		if err := s.adapter.Set(ctx, key, e); err != nil {
			// The value is still good; only the access time is stale.
			level.Warn(s.logger).Log("msg", "adapter access-time update failed", "key", key, "err", err)
		}
		s.hit()
	}
	return e, true
}

// Set stores value under key. A ttl of zero or less falls back to the
// store's default TTL. Reports whether the write succeeded.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	s.ensureCapacity(ctx)

	now := nowMs()
	e := &Entry{
		Value:      value,
		CreatedMs:  now,
		AccessedMs: now,
		ExpiresMs:  s.expiryMs(now, ttl),
		SizeBytes:  approxSize(value),
	}
	if err := s.adapter.Set(ctx, key, e); err != nil {
		level.Warn(s.logger).Log("msg", "adapter set failed", "key", key, "err", err)
		return false
	}

	atomic.AddInt64(&s.stats.sets, 1)
	s.metrics.RecordSet(e.SizeBytes)
	return true
}

// expiryMs resolves the expiry deadline for a write. Zero means the
// entry never expires.
func (s *Store) expiryMs(now int64, ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl <= 0 {
		return 0
	}
	return now + ttl.Milliseconds()
}

// Delete removes the entry under key. Reports whether an entry was
// removed.
func (s *Store) Delete(ctx context.Context, key string) bool {
	removed, err := s.adapter.Delete(ctx, key)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter delete failed", "key", key, "err", err)
		return false
	}
	if removed {
		atomic.AddInt64(&s.stats.deletes, 1)
		s.metrics.RecordDeletes(1)
	}
	return removed
}

// Has reports whether a live entry exists under key. Expired entries
// are dropped on the way, but unlike Get this neither counts toward
// hit/miss statistics nor refreshes the last-access time.
func (s *Store) Has(ctx context.Context, key string) bool {
	_, ok := s.lookup(ctx, key, false)
	return ok
}

// GetOrSet returns the value under key, producing and storing it with
// the factory on a miss. Factory errors pass through to the caller
// and nothing is cached.
//
// Without Config.SingleFlight, concurrent callers for the same absent
// key may each run the factory and the last write wins. With it, one
// caller produces and the rest share the result.
func (s *Store) GetOrSet(ctx context.Context, key string, ttl time.Duration, factory func(context.Context) (any, error)) (any, error) {
	if v, ok := s.Get(ctx, key); ok {
		return v, nil
	}

	if s.cfg.SingleFlight {
		v, err, _ := s.group.Do(key, func() (any, error) {
			if e, ok := s.lookup(ctx, key, false); ok {
				return e.Value, nil
			}
			v, err := factory(ctx)
			if err != nil {
				return nil, err
			}
			s.Set(ctx, key, v, ttl)
			return v, nil
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	v, err := factory(ctx)
	if err != nil {
		return nil, err
	}
	s.Set(ctx, key, v, ttl)
	return v, nil
}

// GetMany looks up all keys concurrently and returns the values that
// were present. Missing keys are simply absent from the result.
func (s *Store) GetMany(ctx context.Context, keys []string) map[string]any {
	results := make(map[string]any, len(keys))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			if v, ok := s.Get(ctx, key); ok {
				mu.Lock()
				results[key] = v
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()

	return results
}

// SetMany stores all entries concurrently with a shared TTL and
// reports per-key success. There is no cross-key atomicity; each
// write stands alone.
func (s *Store) SetMany(ctx context.Context, entries map[string]any, ttl time.Duration) map[string]bool {
	results := make(map[string]bool, len(entries))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for key, value := range entries {
		wg.Add(1)
		go func(key string, value any) {
			defer wg.Done()
			ok := s.Set(ctx, key, value, ttl)
			mu.Lock()
			results[key] = ok
			mu.Unlock()
		}(key, value)
	}
	wg.Wait()

	return results
}

// Clear removes entries and returns how many were removed. An empty
// pattern wipes the whole store without touching the delete counter.
// Otherwise pattern is compiled as a regular expression and matching
// keys are removed through the counted delete path; an invalid
// pattern removes nothing.
func (s *Store) Clear(ctx context.Context, pattern string) int {
	return s.clearScoped(ctx, "", pattern)
}

// clearScoped implements Clear for the store (empty prefix) and for
// namespaces (prefix-restricted, pattern applied to the key remainder).
func (s *Store) clearScoped(ctx context.Context, prefix, pattern string) int {
	if prefix == "" && pattern == "" {
		n, err := s.adapter.Clear(ctx)
		if err != nil {
			level.Warn(s.logger).Log("msg", "adapter clear failed", "err", err)
			return 0
		}
		s.metrics.UpdateEntryCount(0)
		return n
	}

	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			level.Warn(s.logger).Log("msg", "invalid clear pattern", "pattern", pattern, "err", err)
			return 0
		}
	}

	keys, err := s.adapter.Keys(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter keys failed", "err", err)
		return 0
	}

	removed := 0
	for _, key := range keys {
		target := key
		if prefix != "" {
			rest, ok := strings.CutPrefix(key, prefix)
			if !ok {
				continue
			}
			target = rest
		}
		if re != nil && !re.MatchString(target) {
			continue
		}
		ok, err := s.adapter.Delete(ctx, key)
		if err != nil {
			level.Warn(s.logger).Log("msg", "adapter delete failed", "key", key, "err", err)
			continue
		}
		if ok {
			removed++
		}
	}

	if removed > 0 {
		atomic.AddInt64(&s.stats.deletes, int64(removed))
		s.metrics.RecordDeletes(removed)
	}
	s.refreshEntryGauge(ctx)
	return removed
}

// GetStats returns a snapshot of store statistics, including the
// adapter's current entry count.
func (s *Store) GetStats(ctx context.Context) Stats {
	st := s.stats.snapshot()
	st.MaxSize = s.cfg.MaxEntries

	n, err := s.adapter.Len(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter len failed", "err", err)
	} else {
		st.Size = n
	}
	return st
}

// Namespace returns a view of the store whose keys live under the
// given prefix. Capacity and statistics remain store-wide.
func (s *Store) Namespace(prefix string) *Namespace {
	return &Namespace{store: s, prefix: prefix + namespaceSeparator}
}

// Close stops the background sweep and closes the adapter. It is safe
// to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.closeErr = s.adapter.Close()
	})
	return s.closeErr
}

func (s *Store) hit() {
	atomic.AddInt64(&s.stats.hits, 1)
	s.metrics.RecordHit()
}

func (s *Store) miss() {
	atomic.AddInt64(&s.stats.misses, 1)
	s.metrics.RecordMiss()
}

// ensureCapacity evicts a batch of the least recently used entries
// when the adapter is at capacity, so the subsequent write never
// pushes the entry count past MaxEntries.
func (s *Store) ensureCapacity(ctx context.Context) {
	n, err := s.adapter.Len(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter len failed", "err", err)
		return
	}
	if n < s.cfg.MaxEntries {
		return
	}
	// Evict a tenth of the capacity, rounded up, so writes under
	// sustained pressure do not pay an eviction each.
	s.evictLRU(ctx, (s.cfg.MaxEntries+9)/10)
}

// evictLRU removes up to n entries in ascending last-access order.
// Entries with equal access times are broken arbitrarily.
func (s *Store) evictLRU(ctx context.Context, n int) {
	type candidate struct {
		key        string
		accessedMs int64
	}

	keys, err := s.adapter.Keys(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter keys failed", "err", err)
		return
	}

	candidates := make([]candidate, 0, len(keys))
	for _, key := range keys {
		e, err := s.adapter.Get(ctx, key)
		if err != nil {
			// Deleted in the meantime or unreadable; skip either way.
			continue
		}
		candidates = append(candidates, candidate{key: key, accessedMs: e.AccessedMs})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].accessedMs < candidates[j].accessedMs
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	evicted := 0
	for _, c := range candidates[:n] {
		ok, err := s.adapter.Delete(ctx, c.key)
		if err != nil {
			level.Warn(s.logger).Log("msg", "adapter delete failed", "key", c.key, "err", err)
			continue
		}
		if ok {
			evicted++
		}
	}

	if evicted > 0 {
		atomic.AddInt64(&s.stats.evictions, int64(evicted))
		s.metrics.RecordEvictions(evicted)
		level.Debug(s.logger).Log("msg", "evicted entries", "count", evicted)
	}
}

// cleanup removes every expired entry. Safe to run concurrently with
// reads and writes; removals are idempotent, so racing with eviction
// at worst duplicates work.
func (s *Store) cleanup(ctx context.Context) {
	start := time.Now()
	now := nowMs()

	keys, err := s.adapter.Keys(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "adapter keys failed", "err", err)
		return
	}

	expired := 0
	for _, key := range keys {
		e, err := s.adapter.Get(ctx, key)
		if err != nil {
			continue
		}
		if !e.Expired(now) {
			continue
		}
		ok, err := s.adapter.Delete(ctx, key)
		if err != nil {
			level.Warn(s.logger).Log("msg", "adapter delete of expired entry failed", "key", key, "err", err)
			continue
		}
		if ok {
			expired++
		}
	}

	if expired > 0 {
		s.metrics.RecordExpired(expired)
		level.Debug(s.logger).Log("msg", "expiry sweep removed entries", "count", expired)
	}
	s.metrics.ObserveSweep(time.Since(start))
	s.refreshEntryGauge(ctx)
}

func (s *Store) refreshEntryGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if n, err := s.adapter.Len(ctx); err == nil {
		s.metrics.UpdateEntryCount(n)
	}
}

// sweeper runs cleanup on a fixed interval until Close.
func (s *Store) sweeper(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanup(s.ctx)
		}
	}
}
