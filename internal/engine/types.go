// Package engine provides the Lorekeeper facade: one explicitly constructed
// object that owns the memory tiers and the response cache, plus the
// background compression worker pool and periodic maintenance loops.
package engine

import (
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/config"
	"github.com/scrypster/lorekeeper/internal/memory"
	"github.com/scrypster/lorekeeper/internal/storage"
)

// CompressionJob is one queued background compression of an entity.
type CompressionJob struct {
	// EntityID is the entity whose aged events are compressed.
	EntityID int64

	// Timestamp is when the job was queued.
	Timestamp time.Time

	// Attempt tracks retry attempts for this job.
	Attempt int
}

// Config holds configuration for the engine.
type Config struct {
	// Memory tiers.
	WorkingCapacity    int
	CompressionAgeDays int
	SummaryMaxWords    int
	PromoteThreshold   float64

	// Response cache.
	L1TTL           time.Duration
	L3TTL           time.Duration
	VolatileTimeout time.Duration

	// NumWorkers is the number of compression worker goroutines (default: 2).
	NumWorkers int

	// QueueSize is the size of the compression job queue buffer (default: 256).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// MaxRetries is the maximum number of compression retry attempts (default: 3).
	MaxRetries int

	// RetryBackoff is the base of the quadratic retry backoff (default: 100ms).
	RetryBackoff time.Duration

	// JobTimeout bounds a single compression (default: 2m).
	JobTimeout time.Duration

	// CompressionInterval is the sweeper cadence; 0 disables the sweeper.
	CompressionInterval time.Duration

	// PurgeInterval is the durable cache purge cadence; 0 disables it.
	PurgeInterval time.Duration

	// SweepBatchSize caps the entities enqueued per sweep (default: 500).
	SweepBatchSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorkingCapacity:     memory.DefaultWorkingCapacity,
		CompressionAgeDays:  memory.DefaultCompressionAgeDays,
		SummaryMaxWords:     memory.DefaultSummaryMaxWords,
		PromoteThreshold:    memory.DefaultPromoteThreshold,
		L1TTL:               24 * time.Hour,
		L3TTL:               168 * time.Hour,
		VolatileTimeout:     150 * time.Millisecond,
		NumWorkers:          2,
		QueueSize:           256,
		ShutdownTimeout:     30 * time.Second,
		MaxRetries:          3,
		RetryBackoff:        100 * time.Millisecond,
		JobTimeout:          2 * time.Minute,
		CompressionInterval: time.Hour,
		PurgeInterval:       time.Hour,
		SweepBatchSize:      storage.MaxListLimit,
	}
}

// ConfigFrom maps the application configuration onto an engine Config.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	c.WorkingCapacity = cfg.Memory.WorkingCapacity
	c.CompressionAgeDays = cfg.Memory.CompressionAgeDays
	c.SummaryMaxWords = cfg.Memory.SummaryMaxWords
	c.PromoteThreshold = cfg.Memory.PromoteThreshold
	c.CompressionInterval = cfg.Memory.CompressionInterval
	c.NumWorkers = cfg.Memory.Workers
	c.QueueSize = cfg.Memory.QueueSize
	c.ShutdownTimeout = cfg.Memory.ShutdownTimeout
	c.L1TTL = cfg.Cache.L1TTL
	c.L3TTL = cfg.Cache.L3TTL
	c.VolatileTimeout = cfg.Cache.VolatileTimeout
	c.PurgeInterval = cfg.Cache.PurgeInterval
	return c
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.WorkingCapacity < 1 {
		return fmt.Errorf("WorkingCapacity must be >= 1, got %d", c.WorkingCapacity)
	}

	if c.CompressionAgeDays < 0 {
		return fmt.Errorf("CompressionAgeDays must be >= 0, got %d", c.CompressionAgeDays)
	}

	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("MaxRetries must be >= 0, got %d", c.MaxRetries)
	}

	if c.CompressionInterval < 0 || c.PurgeInterval < 0 {
		return fmt.Errorf("intervals must be >= 0, got compression=%v purge=%v", c.CompressionInterval, c.PurgeInterval)
	}

	if c.SweepBatchSize < 1 {
		return fmt.Errorf("SweepBatchSize must be >= 1, got %d", c.SweepBatchSize)
	}

	return nil
}
