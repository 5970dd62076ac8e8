package cache

import (
	"sync/atomic"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// Stats holds process-wide cache counters. Each counter is atomic; a
// Snapshot reads them one at a time and is only eventually consistent.
type Stats struct {
	l1FastHits      atomic.Uint64
	l1FastMisses    atomic.Uint64
	l1DurableHits   atomic.Uint64
	l1DurableMisses atomic.Uint64
	l1Misses        atomic.Uint64
	l3Hits          atomic.Uint64
	l3Misses        atomic.Uint64
	sets            atomic.Uint64
	invalidations   atomic.Uint64
	errors          atomic.Uint64
}

// Snapshot returns the current counters and derived hit rates.
func (s *Stats) Snapshot() types.CacheStatistics {
	st := types.CacheStatistics{
		L1FastHits:      s.l1FastHits.Load(),
		L1FastMisses:    s.l1FastMisses.Load(),
		L1DurableHits:   s.l1DurableHits.Load(),
		L1DurableMisses: s.l1DurableMisses.Load(),
		L1Misses:        s.l1Misses.Load(),
		L3Hits:          s.l3Hits.Load(),
		L3Misses:        s.l3Misses.Load(),
		Sets:            s.sets.Load(),
		Invalidations:   s.invalidations.Load(),
		Errors:          s.errors.Load(),
	}
	l1Hits := st.L1FastHits + st.L1DurableHits
	st.L1HitRate = rate(l1Hits, l1Hits+st.L1Misses)
	st.L3HitRate = rate(st.L3Hits, st.L3Hits+st.L3Misses)
	st.OverallHitRate = rate(l1Hits+st.L3Hits, l1Hits+st.L1Misses+st.L3Hits+st.L3Misses)
	return st
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	for _, c := range []*atomic.Uint64{
		&s.l1FastHits, &s.l1FastMisses, &s.l1DurableHits, &s.l1DurableMisses,
		&s.l1Misses, &s.l3Hits, &s.l3Misses, &s.sets, &s.invalidations, &s.errors,
	} {
		c.Store(0)
	}
}

func rate(hits, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
