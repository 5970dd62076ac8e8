package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/cache"
)

// exerciseVolatileStore runs the VolatileStore contract against store.
func exerciseVolatileStore(t *testing.T, store cache.VolatileStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, store.Set(ctx, "l3:npc:1", "a", time.Hour))
	require.NoError(t, store.Set(ctx, "l3:npc:2", "b", time.Hour))
	require.NoError(t, store.Set(ctx, "l3:npc_x:1", "c", time.Hour))
	require.NoError(t, store.Set(ctx, "l3:item:1", "d", time.Hour))

	got, err := store.Get(ctx, "l3:npc:1")
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	n, err := store.Delete(ctx, "l3:npc:?")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = store.Get(ctx, "l3:npc:2")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = store.Get(ctx, "l3:npc_x:1")
	assert.NoError(t, err)

	// Brackets are literal, never a character class.
	require.NoError(t, store.Set(ctx, "l3:loc:[ab]", "e", time.Hour))
	require.NoError(t, store.Set(ctx, "l3:loc:a", "f", time.Hour))
	n, err = store.Delete(ctx, "l3:loc:[ab]")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.Get(ctx, "l3:loc:a")
	assert.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		n, err := store.Incr(ctx, "l1hits:k", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestLRUStore(t *testing.T) {
	store, err := cache.NewLRUStore(16, nil)
	require.NoError(t, err)
	exerciseVolatileStore(t, store)
}

func TestLRUStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	store, err := cache.NewLRUStore(2, nil)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "b", "2", 0))
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "c", "3", 0))

	_, err = store.Get(ctx, "b")
	assert.ErrorIs(t, err, cache.ErrMiss)
	_, err = store.Get(ctx, "a")
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestLRUStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store, err := cache.NewLRUStore(4, clock.Now)
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	clock.Advance(2 * time.Minute)

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)

	n, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "an expired counter restarts")
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore("redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Ping(context.Background()))
	exerciseVolatileStore(t, store)

	assert.Equal(t, cache.DefaultRedisNamespace, store.Namespace())
	assert.Equal(t, time.Hour, mr.TTL("lorekeeper:l1hits:k"))
	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists("lorekeeper:l1hits:k"))
}

func TestRedisStore_LeavesForeignKeysAlone(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("session:42", "someone else's"))

	store, err := cache.NewRedisStore("redis://"+mr.Addr()+"/0", "lk:")
	require.NoError(t, err)
	c := cache.New(cache.Config{Volatile: store})
	defer c.Close()

	c.SetL3(ctx, "npc", "bren", "The blacksmith", 0)
	assert.True(t, mr.Exists("lk:l3:npc:bren"))

	assert.Equal(t, 1, c.Invalidate(ctx, "*"))
	assert.True(t, mr.Exists("session:42"), "keys outside the namespace must survive")
	assert.False(t, mr.Exists("lk:l3:npc:bren"))
}

func TestRedisStore_BadURL(t *testing.T) {
	_, err := cache.NewRedisStore("not-a-url", "")
	assert.Error(t, err)
}

func TestGuardedStore_FailsFastWhenDown(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	inner, err := cache.NewRedisStore("redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	guarded := cache.NewGuardedStore(inner, 50*time.Millisecond, nil)
	t.Cleanup(func() { _ = guarded.Close() })

	_, err = guarded.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss, "misses do not trip the breaker")
	assert.Equal(t, "closed", guarded.BreakerState())

	mr.Close()
	for i := 0; i < 5; i++ {
		_, err = guarded.Get(ctx, "k")
		assert.Error(t, err)
	}
	assert.Equal(t, "open", guarded.BreakerState())

	start := time.Now()
	err = guarded.Set(ctx, "k", "v", time.Minute)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
