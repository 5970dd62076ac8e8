package types

import "time"

// CacheEntry is an exact-match (L1) cached generator response.
type CacheEntry struct {
	Key       string     `json:"key"`     // Deterministic hash of the canonical request
	Payload   string     `json:"payload"` // Generator response
	HitCount  int64      `json:"hit_count"`
	LastHitAt *time.Time `json:"last_hit_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent at now.
// A physical row that is past ExpiresAt is never a hit.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ComponentCacheEntry is a static-component (L3) cached fragment.
type ComponentCacheEntry struct {
	ComponentType string    `json:"component_type"`
	Identifier    string    `json:"identifier"`
	Payload       string    `json:"payload"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as absent at now.
func (e *ComponentCacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// CacheStatistics is a point-in-time snapshot of the process-wide cache
// counters. Counters are read individually, so a snapshot taken under
// concurrent traffic is only eventually consistent.
type CacheStatistics struct {
	L1FastHits      uint64 `json:"l1_fast_hits"`
	L1FastMisses    uint64 `json:"l1_fast_misses"`
	L1DurableHits   uint64 `json:"l1_durable_hits"`
	L1DurableMisses uint64 `json:"l1_durable_misses"`
	L1Misses        uint64 `json:"l1_misses"` // Requests that missed every L1 tier
	L3Hits          uint64 `json:"l3_hits"`
	L3Misses        uint64 `json:"l3_misses"`
	Sets            uint64 `json:"sets"`
	Invalidations   uint64 `json:"invalidations"`
	Errors          uint64 `json:"errors"`

	L1HitRate      float64 `json:"l1_hit_rate"`
	L3HitRate      float64 `json:"l3_hit_rate"`
	OverallHitRate float64 `json:"overall_hit_rate"`
}
