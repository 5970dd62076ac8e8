package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SweepOnce enqueues a compression job for every entity owning events older
// than the configured compression age. It returns the number queued.
func (e *Engine) SweepOnce(ctx context.Context) (int, error) {
	cutoff := e.compressor.Cutoff(-1)
	ids, err := e.store.EntitiesWithAgedEvents(ctx, cutoff, e.config.SweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list entities with aged events: %w", err)
	}
	queued := 0
	for _, id := range ids {
		if e.EnqueueCompression(id) {
			queued++
		}
	}
	if len(ids) > 0 {
		e.logger.Info("compression sweep",
			zap.Int("candidates", len(ids)),
			zap.Int("queued", queued),
			zap.Time("cutoff", cutoff))
	}
	return queued, nil
}

// startLoops launches the compression sweeper and the cache purge loop.
func (e *Engine) startLoops(ctx context.Context) {
	if e.config.CompressionInterval > 0 {
		e.every(ctx, e.config.CompressionInterval, func(ctx context.Context) {
			if _, err := e.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("compression sweep failed", zap.Error(err))
			}
		})
	}
	if e.config.PurgeInterval > 0 {
		e.every(ctx, e.config.PurgeInterval, func(ctx context.Context) {
			n, err := e.cache.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Warn("cache purge failed", zap.Error(err))
				}
				return
			}
			if n > 0 {
				e.logger.Info("purged expired cache entries", zap.Int("removed", n))
			}
		})
	}
}

// every runs fn on each tick of interval until ctx is done.
func (e *Engine) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	e.loopWaitGroup.Add(1)
	go func() {
		defer e.loopWaitGroup.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}
