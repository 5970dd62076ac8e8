package engine

import (
	"time"

	"go.uber.org/zap"
)

// EnqueueCompression queues a background compression for entityID.
// Returns false if the engine is not running, the entity already has a
// pending job, or the queue is full.
func (e *Engine) EnqueueCompression(entityID int64) bool {
	if entityID <= 0 {
		return false
	}
	if !e.markPending(entityID) {
		return false
	}
	if !e.queueCompressionJob(&CompressionJob{EntityID: entityID, Timestamp: time.Now()}) {
		e.clearPending(entityID)
		return false
	}
	return true
}

// queueCompressionJob attempts to queue a job without blocking.
func (e *Engine) queueCompressionJob(job *CompressionJob) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started || e.shuttingDown {
		return false
	}

	select {
	case e.compressionQueue <- job:
		return true
	default:
		e.logger.Warn("compression queue full, dropping job",
			zap.Int("queue_size", e.config.QueueSize),
			zap.Int64("entity_id", job.EntityID))
		return false
	}
}

// requeueCompressionJob attempts to requeue a failed job.
// Returns true if the job was requeued, false if max retries were exceeded,
// shutdown is in progress or the queue is full.
func (e *Engine) requeueCompressionJob(job *CompressionJob) bool {
	if job.Attempt >= e.config.MaxRetries {
		e.logger.Warn("max compression retries exceeded, giving up",
			zap.Int("max_retries", e.config.MaxRetries),
			zap.Int64("entity_id", job.EntityID))
		return false
	}

	job.Attempt++
	if !e.queueCompressionJob(job) {
		job.Attempt--
		return false
	}
	e.logger.Info("requeued compression job",
		zap.Int64("entity_id", job.EntityID),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_retries", e.config.MaxRetries))
	return true
}

func (e *Engine) markPending(entityID int64) bool {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	if _, ok := e.pending[entityID]; ok {
		return false
	}
	e.pending[entityID] = struct{}{}
	return true
}

func (e *Engine) clearPending(entityID int64) {
	e.pendingMu.Lock()
	delete(e.pending, entityID)
	e.pendingMu.Unlock()
}

// QueueLength returns the current number of jobs in the compression queue.
func (e *Engine) QueueLength() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compressionQueue)
}
