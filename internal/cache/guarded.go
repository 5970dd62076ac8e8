package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/breaker"
)

// DefaultVolatileTimeout bounds each call to the volatile store.
const DefaultVolatileTimeout = 150 * time.Millisecond

// GuardedStore bounds every call to the wrapped VolatileStore with a short
// timeout and a circuit breaker, so a degraded fast store fails fast
// instead of stalling the durable fallback path.
type GuardedStore struct {
	inner   VolatileStore
	timeout time.Duration
	breaker *breaker.Breaker
}

// NewGuardedStore wraps inner. A zero timeout uses DefaultVolatileTimeout.
func NewGuardedStore(inner VolatileStore, timeout time.Duration, logger *zap.Logger) *GuardedStore {
	if timeout <= 0 {
		timeout = DefaultVolatileTimeout
	}
	return &GuardedStore{
		inner:   inner,
		timeout: timeout,
		breaker: breaker.New(breaker.Config{
			Name:        "volatile-cache",
			MaxFailures: 5,
			Timeout:     10 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrMiss)
			},
			Logger: logger,
		}),
	}
}

func (g *GuardedStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return breaker.Do(ctx, g.breaker, func() (string, error) {
		return g.inner.Get(ctx, key)
	})
}

func (g *GuardedStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.breaker.Execute(ctx, func() error {
		return g.inner.Set(ctx, key, value, ttl)
	})
}

// Delete is a bulk scan and gets a longer budget than point operations.
func (g *GuardedStore) Delete(ctx context.Context, pattern string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*g.timeout)
	defer cancel()
	return breaker.Do(ctx, g.breaker, func() (int, error) {
		return g.inner.Delete(ctx, pattern)
	})
}

func (g *GuardedStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return breaker.Do(ctx, g.breaker, func() (int64, error) {
		return g.inner.Incr(ctx, key, ttl)
	})
}

func (g *GuardedStore) Close() error {
	return g.inner.Close()
}

// BreakerState reports the state of the guarding circuit breaker.
func (g *GuardedStore) BreakerState() string {
	return g.breaker.State()
}

var _ VolatileStore = (*GuardedStore)(nil)
