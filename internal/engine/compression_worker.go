package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
)

// compressionWorker processes compression jobs until the queue is closed.
func (e *Engine) compressionWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	e.logger.Debug("compression worker started", zap.Int("worker_id", workerID))

	for job := range e.compressionQueue {
		e.processCompressionJob(workerID, job)
	}

	e.logger.Debug("compression worker stopped", zap.Int("worker_id", workerID))
}

// processCompressionJob compresses one entity. Failed jobs are retried with
// a quadratic backoff, except for invalid input which can never succeed.
func (e *Engine) processCompressionJob(workerID int, job *CompressionJob) {
	// Detached from the worker context so queued jobs finish during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), e.config.JobTimeout)
	defer cancel()

	if job.Attempt > 0 {
		backoff := time.Duration(job.Attempt*job.Attempt) * e.config.RetryBackoff
		e.logger.Debug("waiting before compression retry",
			zap.Int("worker_id", workerID),
			zap.Int64("entity_id", job.EntityID),
			zap.Duration("backoff", backoff))
		time.Sleep(backoff)
	}

	episode, err := e.compressor.Compress(ctx, job.EntityID, -1)
	switch {
	case err == nil && episode == nil:
		e.logger.Debug("nothing to compress", zap.Int64("entity_id", job.EntityID))
	case err == nil:
		e.logger.Debug("compression job completed",
			zap.Int("worker_id", workerID),
			zap.Int64("entity_id", job.EntityID),
			zap.Int("event_count", episode.EventCount))
	case errors.Is(err, storage.ErrInvalidInput):
		e.logger.Error("compression job rejected", zap.Int64("entity_id", job.EntityID), zap.Error(err))
	default:
		e.logger.Warn("compression job failed",
			zap.Int("worker_id", workerID),
			zap.Int64("entity_id", job.EntityID),
			zap.Int("attempt", job.Attempt),
			zap.Bool("conflict", errors.Is(err, storage.ErrConflict)),
			zap.Error(err))
		if e.requeueCompressionJob(job) {
			return
		}
	}
	e.clearPending(job.EntityID)
}

// startWorkerPool starts the compression worker goroutines.
func (e *Engine) startWorkerPool() {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.compressionWorker(i)
	}
}

// stopWorkerPool waits for the workers to drain the closed queue.
func (e *Engine) stopWorkerPool(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Debug("all compression workers finished")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		e.logger.Warn("shutdown timeout reached, compression jobs may be dropped",
			zap.Int("remaining", len(e.compressionQueue)))
		return nil
	case <-ctx.Done():
		e.logger.Warn("context cancelled, compression jobs may be dropped",
			zap.Int("remaining", len(e.compressionQueue)))
		return ctx.Err()
	}
}
