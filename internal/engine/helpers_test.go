package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/cache"
	"github.com/scrypster/lorekeeper/internal/storage/sqlite"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newTestEngine creates an Engine over an in-memory SQLite store and an
// in-process volatile cache, with no LLM collaborators.
func newTestEngine(t *testing.T, mutate func(*Dependencies, *Config)) (*Engine, *fakeClock) {
	t.Helper()

	store, err := sqlite.NewStore(context.Background(), ":memory:", nil)
	require.NoError(t, err)

	clock := &fakeClock{now: base}
	lru, err := cache.NewLRUStore(128, clock.Now)
	require.NoError(t, err)

	deps := Dependencies{Store: store, Vectors: store, Volatile: lru, Now: clock.Now}
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	cfg.RetryBackoff = time.Millisecond
	cfg.CompressionInterval = 0
	cfg.PurgeInterval = 0
	if mutate != nil {
		mutate(&deps, &cfg)
	}

	eng, err := New(deps, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, clock
}
