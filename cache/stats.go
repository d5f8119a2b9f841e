package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of store activity. All counters
// are monotonic for the lifetime of the store; Size and HitRate are
// derived at snapshot time.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Sets      int64   `json:"sets"`
	Deletes   int64   `json:"deletes"`
	Evictions int64   `json:"evictions"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRate   float64 `json:"hit_rate"`
}

// counters accumulates store activity. Fields are updated with
// sync/atomic so hot paths never contend on a statistics lock.
type counters struct {
	hits      int64
	misses    int64
	sets      int64
	deletes   int64
	evictions int64
}

func (c *counters) snapshot() Stats {
	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	s := Stats{
		Hits:      hits,
		Misses:    misses,
		Sets:      atomic.LoadInt64(&c.sets),
		Deletes:   atomic.LoadInt64(&c.deletes),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
