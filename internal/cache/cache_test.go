package cache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/cache"
	"github.com/scrypster/lorekeeper/internal/storage/sqlite"
)

// fakeClock is a synthetic clock for expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newDurable(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newLRU(t *testing.T, clock *fakeClock) *cache.LRUStore {
	t.Helper()
	store, err := cache.NewLRUStore(128, clock.Now)
	require.NoError(t, err)
	return store
}

func request(content string) cache.Request {
	return cache.Request{
		Model:    "a",
		System:   "s",
		Messages: []cache.Message{{Role: "user", Content: content}},
	}
}

func TestKey(t *testing.T) {
	a := request("m1")
	b := request("m1")
	b.Metadata = map[string]string{"request_id": "abc", "user_agent": "test"}

	assert.Equal(t, cache.Key(a), cache.Key(b), "metadata must not affect the key")
	assert.NotEqual(t, cache.Key(a), cache.Key(request("m2")))

	c := request("m1")
	c.Temperature = 0.7
	assert.NotEqual(t, cache.Key(a), cache.Key(c))

	assert.Regexp(t, `^l1:[0-9a-f]{64}$`, cache.Key(a))
	assert.Equal(t, "l3:npc:42", cache.ComponentKey("npc", "42"))
}

func TestResponseCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	c.SetL1(ctx, request("m1"), "R", 24*time.Hour)

	got, ok := c.GetL1(ctx, request("m1"))
	require.True(t, ok)
	assert.Equal(t, "R", got)

	_, ok = c.GetL1(ctx, request("m2"))
	assert.False(t, ok)
	c.Wait()

	st := c.Stats()
	assert.EqualValues(t, 1, st.L1FastHits)
	assert.EqualValues(t, 1, st.L1Misses)
	assert.EqualValues(t, 1, st.Sets)
	assert.Zero(t, st.Errors)
	assert.InDelta(t, 0.5, st.L1HitRate, 1e-9)
}

func TestResponseCache_ExpiresOnSyntheticClock(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	c.SetL1(ctx, request("m1"), "R", time.Hour)

	clock.Advance(59 * time.Minute)
	_, ok := c.GetL1(ctx, request("m1"))
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)
	_, ok = c.GetL1(ctx, request("m1"))
	assert.False(t, ok, "an entry past expires_at is never a hit")
	c.Wait()
}

func TestResponseCache_DurableOnly(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	_, ok := c.GetL1(ctx, request("m1"))
	assert.False(t, ok)

	c.SetL1(ctx, request("m1"), "R", 0)
	got, ok := c.GetL1(ctx, request("m1"))
	require.True(t, ok)
	assert.Equal(t, "R", got)
	c.Wait()

	st := c.Stats()
	assert.EqualValues(t, 1, st.L1DurableHits)
	assert.EqualValues(t, 1, st.L1DurableMisses)
	assert.Zero(t, st.L1FastHits)
	assert.Zero(t, st.L1FastMisses)
	assert.Zero(t, st.Errors)
}

func TestResponseCache_DurableHitBackfillsAndCounts(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	lru := newLRU(t, clock)
	durable := newDurable(t)
	c := cache.New(cache.Config{Volatile: lru, Durable: durable, Now: clock.Now})
	defer c.Close()

	req := request("m1")
	c.SetL1(ctx, req, "R", 0)
	_, err := lru.Delete(ctx, "l1:*")
	require.NoError(t, err)

	_, ok := c.GetL1(ctx, req)
	require.True(t, ok)
	c.Wait()

	_, ok = c.GetL1(ctx, req)
	require.True(t, ok)
	c.Wait()

	st := c.Stats()
	assert.EqualValues(t, 1, st.L1DurableHits)
	assert.EqualValues(t, 1, st.L1FastHits, "the durable hit must be backfilled into the fast tier")

	entry, err := durable.GetCacheEntry(ctx, cache.Key(req))
	require.NoError(t, err)
	assert.EqualValues(t, 2, entry.HitCount)
	require.NotNil(t, entry.LastHitAt)

	hits, err := lru.Get(ctx, "l1hits:"+cache.Key(req))
	require.NoError(t, err)
	assert.Equal(t, "2", hits)
}

func TestResponseCache_BackfillKeepsRemainingTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mr := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore("redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	c := cache.New(cache.Config{Volatile: redisStore, Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	req := request("m1")
	c.SetL1(ctx, req, "R", time.Hour)
	fastKey := cache.DefaultRedisNamespace + cache.Key(req)
	assert.Equal(t, time.Hour, mr.TTL(fastKey))
	mr.Del(fastKey)

	clock.Advance(45 * time.Minute)
	got, ok := c.GetL1(ctx, req)
	require.True(t, ok)
	assert.Equal(t, "R", got)
	c.Wait()

	require.True(t, mr.Exists(fastKey), "the durable hit is backfilled")
	assert.Equal(t, 15*time.Minute, mr.TTL(fastKey))
}

func TestResponseCache_FastTierOutage(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mr := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore("redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)

	c := cache.New(cache.Config{Volatile: redisStore, Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	mr.Close()

	c.SetL1(ctx, request("m1"), "R", 0)
	got, ok := c.GetL1(ctx, request("m1"))
	require.True(t, ok, "the durable tier must serve while the fast tier is down")
	assert.Equal(t, "R", got)
	c.Wait()

	st := c.Stats()
	assert.EqualValues(t, 1, st.L1DurableHits)
	assert.EqualValues(t, 1, st.Sets)
	assert.Greater(t, st.Errors, uint64(0))

	_, ok = c.GetL3(ctx, "npc", "1")
	assert.False(t, ok)
}

func TestResponseCache_NoTiers(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.Config{})
	defer c.Close()

	c.SetL1(ctx, request("m1"), "R", 0)
	_, ok := c.GetL1(ctx, request("m1"))
	assert.False(t, ok)

	c.SetL3(ctx, "npc", "1", "x", 0)
	_, ok = c.GetL3(ctx, "npc", "1")
	assert.False(t, ok)
	assert.Zero(t, c.Invalidate(ctx, "*"))
}

func TestResponseCache_L3(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), L3TTL: time.Hour, Now: clock.Now})
	defer c.Close()

	c.SetL3(ctx, "npc", "1", "Mira the smith", 0)
	c.SetL3(ctx, "npc", "2", "Old Tobin", 0)
	c.SetL3(ctx, "location", "1", "Oakvale", 0)

	got, ok := c.GetL3(ctx, "npc", "1")
	require.True(t, ok)
	assert.Equal(t, "Mira the smith", got)

	assert.Equal(t, 2, c.Invalidate(ctx, "l3:npc:*"))
	_, ok = c.GetL3(ctx, "npc", "2")
	assert.False(t, ok)
	_, ok = c.GetL3(ctx, "location", "1")
	assert.True(t, ok)

	clock.Advance(2 * time.Hour)
	_, ok = c.GetL3(ctx, "location", "1")
	assert.False(t, ok)

	st := c.Stats()
	assert.EqualValues(t, 2, st.L3Hits)
	assert.EqualValues(t, 2, st.L3Misses)
	assert.EqualValues(t, 2, st.Invalidations)
}

func TestResponseCache_InvalidateL1(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	durable := newDurable(t)
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), Durable: durable, Now: clock.Now})
	defer c.Close()

	c.SetL1(ctx, request("m1"), "R1", 0)
	c.SetL1(ctx, request("m2"), "R2", 0)

	assert.Equal(t, 4, c.Invalidate(ctx, "l1:*"), "two entries in each tier")
	_, ok := c.GetL1(ctx, request("m1"))
	assert.False(t, ok)
	c.Wait()
}

func TestResponseCache_Generate(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	var calls atomic.Int32
	gen := cache.GeneratorFunc(func(_ context.Context, req cache.Request) (string, error) {
		calls.Add(1)
		return "story for " + req.Messages[0].Content, nil
	})

	out, hit, err := c.Generate(ctx, request("m1"), gen)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "story for m1", out)

	out, hit, err = c.Generate(ctx, request("m1"), gen)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "story for m1", out)
	assert.EqualValues(t, 1, calls.Load())

	boom := errors.New("generator down")
	_, _, err = c.Generate(ctx, request("m3"), cache.GeneratorFunc(func(context.Context, cache.Request) (string, error) {
		return "", boom
	}))
	assert.ErrorIs(t, err, boom)
	_, ok := c.GetL1(ctx, request("m3"))
	assert.False(t, ok)
	c.Wait()
}

func TestResponseCache_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	c.SetL1(ctx, request("m1"), "R1", time.Hour)
	c.SetL1(ctx, request("m2"), "R2", 48*time.Hour)

	clock.Advance(2 * time.Hour)
	n, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResponseCache_ResetStats(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.Config{Durable: newDurable(t)})
	defer c.Close()

	c.GetL1(ctx, request("m1"))
	require.NotZero(t, c.Stats().L1Misses)

	c.ResetStats()
	assert.Equal(t, 0.0, c.Stats().OverallHitRate)
	assert.Zero(t, c.Stats().L1Misses)
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := cache.New(cache.Config{Volatile: newLRU(t, clock), Durable: newDurable(t), Now: clock.Now})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := request(fmt.Sprintf("m%d", i%5))
			if _, ok := c.GetL1(ctx, req); !ok {
				c.SetL1(ctx, req, "R", 0)
			}
		}(i)
	}
	wg.Wait()
	c.Wait()

	st := c.Stats()
	assert.EqualValues(t, 20, st.L1FastHits+st.L1DurableHits+st.L1Misses)
	assert.Zero(t, st.Errors)
}
