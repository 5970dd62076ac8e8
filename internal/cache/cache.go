// Package cache implements the response cache that sits in front of the
// external generator.
//
// L1 is an exact-match cache of generator responses keyed by a hash of the
// canonical request. It is backed by a fast volatile store (Redis or an
// in-process LRU) with the relational store as durable fallback. L3 holds
// static context fragments in the fast store only; they are cheap to
// recompute and have their own TTL.
//
// The cache is best effort: no lookup or store ever returns an error to the
// caller. Failures are logged, counted in Stats and resolved as a miss.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// Default TTLs.
const (
	DefaultL1TTL = 24 * time.Hour
	DefaultL3TTL = 7 * 24 * time.Hour
)

// touchTimeout bounds the background hit bookkeeping.
const touchTimeout = 2 * time.Second

// Generator produces a response for a request on a cache miss.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config configures a ResponseCache.
type Config struct {
	// Volatile is the fast tier. Nil disables it (and with it L3).
	Volatile VolatileStore
	// Durable is the L1 fallback tier. Nil disables it.
	Durable storage.ResponseCacheStore

	L1TTL time.Duration
	L3TTL time.Duration

	// VolatileTimeout bounds each fast-store call.
	VolatileTimeout time.Duration

	// Now is the clock used for expiry. Defaults to time.Now.
	Now func() time.Time

	Logger *zap.Logger
}

// ResponseCache is the two-tier response cache. It is safe for concurrent use.
type ResponseCache struct {
	volatile VolatileStore
	durable  storage.ResponseCacheStore
	l1       *Fallback
	stats    Stats

	l1TTL  time.Duration
	l3TTL  time.Duration
	now    func() time.Time
	logger *zap.Logger

	pending sync.WaitGroup
}

// New creates a ResponseCache. The volatile store is wrapped with a
// timeout and circuit breaker.
func New(cfg Config) *ResponseCache {
	if cfg.L1TTL <= 0 {
		cfg.L1TTL = DefaultL1TTL
	}
	if cfg.L3TTL <= 0 {
		cfg.L3TTL = DefaultL3TTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &ResponseCache{
		durable: cfg.Durable,
		l1TTL:   cfg.L1TTL,
		l3TTL:   cfg.L3TTL,
		now:     cfg.Now,
		logger:  cfg.Logger,
	}

	var fast, durable Tier
	if cfg.Volatile != nil {
		c.volatile = NewGuardedStore(cfg.Volatile, cfg.VolatileTimeout, cfg.Logger)
		fast = &fastTier{store: c.volatile, hitTTL: cfg.L1TTL}
	}
	if cfg.Durable != nil {
		durable = &durableTier{store: cfg.Durable}
	}
	c.l1 = NewFallback(c.observe, fast, durable)
	return c
}

// observe turns tier outcomes into statistics.
func (c *ResponseCache) observe(op, tier string, err error) {
	if op != OpLookup {
		c.fail(op, tier, err)
		return
	}
	hit := err == nil
	switch tier {
	case TierFast:
		if hit {
			c.stats.l1FastHits.Add(1)
		} else {
			c.stats.l1FastMisses.Add(1)
		}
	case TierDurable:
		if hit {
			c.stats.l1DurableHits.Add(1)
		} else {
			c.stats.l1DurableMisses.Add(1)
		}
	}
	if !hit && !errors.Is(err, ErrMiss) {
		c.fail(op, tier, err)
	}
}

func (c *ResponseCache) fail(op, tier string, err error) {
	c.stats.errors.Add(1)
	c.logger.Warn("response cache operation failed",
		zap.String("op", op),
		zap.String("tier", tier),
		zap.Error(err))
}

// GetL1 returns the cached response for req. A hit schedules hit
// bookkeeping in the background and never waits for it.
func (c *ResponseCache) GetL1(ctx context.Context, req Request) (string, bool) {
	key := Key(req)
	now := c.now()

	entry, servedBy, err := c.l1.Lookup(ctx, key, now)
	if err != nil {
		c.stats.l1Misses.Add(1)
		return "", false
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), touchTimeout)
		defer cancel()
		c.l1.Touch(bg, key, now)
		if servedBy > 0 {
			c.l1.Backfill(bg, entry, servedBy, now)
		}
	}()

	return entry.Payload, true
}

// SetL1 caches payload for req. ttl <= 0 uses the configured L1 TTL.
func (c *ResponseCache) SetL1(ctx context.Context, req Request, payload string, ttl time.Duration) {
	if c.l1.Len() == 0 {
		return
	}
	if ttl <= 0 {
		ttl = c.l1TTL
	}
	now := c.now()
	entry := &types.CacheEntry{
		Key:       Key(req),
		Payload:   payload,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := c.l1.Store(ctx, entry); err != nil {
		c.logger.Warn("response not cached by any tier", zap.String("key", entry.Key), zap.Error(err))
		return
	}
	c.stats.sets.Add(1)
}

// GetL3 returns the cached static component.
func (c *ResponseCache) GetL3(ctx context.Context, componentType, identifier string) (string, bool) {
	if c.volatile == nil {
		c.stats.l3Misses.Add(1)
		return "", false
	}
	raw, err := c.volatile.Get(ctx, ComponentKey(componentType, identifier))
	if err == nil {
		var env envelope
		if env, err = decodeEnvelope(raw); err == nil && !env.expired(c.now()) {
			c.stats.l3Hits.Add(1)
			return env.Payload, true
		}
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		c.fail(OpLookup, TierFast, err)
	}
	c.stats.l3Misses.Add(1)
	return "", false
}

// SetL3 caches a static component. ttl <= 0 uses the configured L3 TTL.
func (c *ResponseCache) SetL3(ctx context.Context, componentType, identifier, payload string, ttl time.Duration) {
	if c.volatile == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.l3TTL
	}
	key := ComponentKey(componentType, identifier)
	if err := c.volatile.Set(ctx, key, encodeEnvelope(payload, c.now().Add(ttl)), ttl); err != nil {
		c.fail(OpStore, TierFast, err)
		return
	}
	c.stats.sets.Add(1)
}

// Invalidate removes every entry whose key matches the glob pattern, for
// example "l3:npc:*" for all NPC components or "l1:*" for every response.
// It returns the number of entries removed across tiers.
func (c *ResponseCache) Invalidate(ctx context.Context, pattern string) int {
	if pattern == "" {
		return 0
	}
	removed := 0
	if c.volatile != nil {
		n, err := c.volatile.Delete(ctx, pattern)
		if err != nil {
			c.fail("invalidate", TierFast, err)
		}
		removed += n
	}
	if c.durable != nil {
		n, err := c.durable.DeleteCacheEntries(ctx, pattern)
		if err != nil {
			c.fail("invalidate", TierDurable, err)
		}
		removed += n
	}
	c.stats.invalidations.Add(uint64(removed))
	c.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int("removed", removed))
	return removed
}

// Generate returns the cached response for req or calls gen and caches its
// result. Generator errors are returned; cache errors never are.
func (c *ResponseCache) Generate(ctx context.Context, req Request, gen Generator) (string, bool, error) {
	if payload, ok := c.GetL1(ctx, req); ok {
		return payload, true, nil
	}
	payload, err := gen.Generate(ctx, req)
	if err != nil {
		return "", false, err
	}
	if payload != "" {
		c.SetL1(ctx, req, payload, 0)
	}
	return payload, false, nil
}

// PurgeExpired deletes expired rows from the durable tier. Unlike lookups
// this is a maintenance call and reports its error.
func (c *ResponseCache) PurgeExpired(ctx context.Context) (int, error) {
	if c.durable == nil {
		return 0, nil
	}
	return c.durable.PurgeExpiredCacheEntries(ctx, c.now())
}

// Stats returns a snapshot of the cache counters.
func (c *ResponseCache) Stats() types.CacheStatistics {
	return c.stats.Snapshot()
}

// ResetStats zeroes the cache counters.
func (c *ResponseCache) ResetStats() {
	c.stats.Reset()
}

// Wait blocks until background hit bookkeeping has finished.
func (c *ResponseCache) Wait() {
	c.pending.Wait()
}

// Close waits for background work and closes the volatile store.
func (c *ResponseCache) Close() error {
	c.Wait()
	if c.volatile != nil {
		return c.volatile.Close()
	}
	return nil
}
