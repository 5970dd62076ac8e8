package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// Tier names used in statistics and logs.
const (
	TierFast    = "fast"
	TierDurable = "durable"
)

// Tier is one backing store of the exact-match cache.
type Tier interface {
	Name() string
	// Lookup returns the unexpired entry for key, or ErrMiss.
	Lookup(ctx context.Context, key string, now time.Time) (*types.CacheEntry, error)
	Store(ctx context.Context, entry *types.CacheEntry) error
	// Touch records a hit on key.
	Touch(ctx context.Context, key string, now time.Time) error
}

// fastTier keeps L1 entries in a VolatileStore as expiry envelopes and
// mirrors hit counts under l1hits:<key>.
type fastTier struct {
	store  VolatileStore
	hitTTL time.Duration
}

func (t *fastTier) Name() string { return TierFast }

func (t *fastTier) Lookup(ctx context.Context, key string, now time.Time) (*types.CacheEntry, error) {
	raw, err := t.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if env.expired(now) {
		return nil, ErrMiss
	}
	return &types.CacheEntry{Key: key, Payload: env.Payload, ExpiresAt: time.Unix(0, env.ExpiresAt).UTC()}, nil
}

func (t *fastTier) Store(ctx context.Context, entry *types.CacheEntry) error {
	ttl := entry.ExpiresAt.Sub(entry.CreatedAt)
	if ttl <= 0 {
		return nil
	}
	return t.store.Set(ctx, entry.Key, encodeEnvelope(entry.Payload, entry.ExpiresAt), ttl)
}

func (t *fastTier) Touch(ctx context.Context, key string, _ time.Time) error {
	_, err := t.store.Incr(ctx, l1HitsPrefix+key, t.hitTTL)
	return err
}

// durableTier keeps L1 entries in the relational response_cache table.
type durableTier struct {
	store storage.ResponseCacheStore
}

func (t *durableTier) Name() string { return TierDurable }

func (t *durableTier) Lookup(ctx context.Context, key string, now time.Time) (*types.CacheEntry, error) {
	entry, err := t.store.GetCacheEntry(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	if entry.Expired(now) {
		return nil, ErrMiss
	}
	return entry, nil
}

func (t *durableTier) Store(ctx context.Context, entry *types.CacheEntry) error {
	return t.store.PutCacheEntry(ctx, entry)
}

func (t *durableTier) Touch(ctx context.Context, key string, now time.Time) error {
	err := t.store.RecordCacheHit(ctx, key, now)
	if errors.Is(err, storage.ErrNotFound) {
		// Only the fast tier holds this key.
		return nil
	}
	return err
}

// Tier operations reported to an Observer.
const (
	OpLookup = "lookup"
	OpStore  = "store"
	OpTouch  = "touch"
)

// Observer is told the outcome of tier operations. Lookups are always
// reported (err nil on a hit, ErrMiss on a clean miss); stores and touches
// only when they fail.
type Observer func(op, tier string, err error)

// Fallback composes tiers in priority order. Lookup stops at the first hit,
// Store and Touch fan out to every tier. It never returns a tier's error
// without first reporting it to the observer.
type Fallback struct {
	tiers   []Tier
	observe Observer
}

// NewFallback builds a fallback over tiers; nil tiers are skipped.
func NewFallback(observe Observer, tiers ...Tier) *Fallback {
	f := &Fallback{observe: observe}
	for _, t := range tiers {
		if t != nil {
			f.tiers = append(f.tiers, t)
		}
	}
	if f.observe == nil {
		f.observe = func(string, string, error) {}
	}
	return f
}

// Lookup returns the first tier hit and the index of the tier that served it.
func (f *Fallback) Lookup(ctx context.Context, key string, now time.Time) (*types.CacheEntry, int, error) {
	for i, t := range f.tiers {
		entry, err := t.Lookup(ctx, key, now)
		f.observe(OpLookup, t.Name(), err)
		if err == nil {
			return entry, i, nil
		}
	}
	return nil, -1, ErrMiss
}

// Store writes entry to every tier. It fails only when no tier accepted it.
func (f *Fallback) Store(ctx context.Context, entry *types.CacheEntry) error {
	var errs []error
	for _, t := range f.tiers {
		err := t.Store(ctx, entry)
		if err != nil {
			f.observe(OpStore, t.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", t.Name(), err))
		}
	}
	if len(errs) == len(f.tiers) && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Touch records a hit in every tier.
func (f *Fallback) Touch(ctx context.Context, key string, now time.Time) {
	for _, t := range f.tiers {
		if err := t.Touch(ctx, key, now); err != nil {
			f.observe(OpTouch, t.Name(), err)
		}
	}
}

// Backfill writes entry into the tiers ranked above the one that served it.
// The copy is stamped with now as its creation time, so those tiers keep it
// only for the TTL that remains.
func (f *Fallback) Backfill(ctx context.Context, entry *types.CacheEntry, servedBy int, now time.Time) {
	fill := *entry
	fill.CreatedAt = now
	for i := 0; i < servedBy && i < len(f.tiers); i++ {
		if err := f.tiers[i].Store(ctx, &fill); err != nil {
			f.observe(OpStore, f.tiers[i].Name(), err)
		}
	}
}

// Len returns the number of configured tiers.
func (f *Fallback) Len() int { return len(f.tiers) }
