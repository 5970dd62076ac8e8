package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/cache"
	"github.com/scrypster/lorekeeper/internal/memory"
	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// ErrNoGenerator is returned by Generate on a cache miss when no text
// generator is configured.
var ErrNoGenerator = errors.New("no text generator configured")

// Summarizer writes episode text and merges narrative developments.
type Summarizer interface {
	memory.EpisodeSummarizer
	memory.NarrativeSummarizer
}

// Dependencies are the collaborators an Engine is built from. Only Store is
// required.
type Dependencies struct {
	Store storage.Store

	// Vectors enables semantic fact search together with Embedder.
	Vectors  storage.FactVectorStore
	Embedder memory.Embedder

	// Volatile is the fast cache tier. Nil runs the cache on the durable tier.
	Volatile cache.VolatileStore

	Summarizer Summarizer
	Generator  cache.Generator

	Now    func() time.Time
	Logger *zap.Logger
}

// Engine owns the memory tiers and the response cache for every entity.
// Synchronous operations are usable right after New; Start launches the
// background compression workers and the maintenance loops.
type Engine struct {
	config Config
	store  storage.Store
	logger *zap.Logger

	working    *memory.WorkingMemory
	facts      *memory.LongTermMemory
	world      *memory.WorldStates
	narrative  *memory.NarrativeSummaries
	compressor *memory.EpisodeCompressor
	assembler  *memory.ContextAssembler

	cache     *cache.ResponseCache
	generator cache.Generator

	// Compression pipeline
	compressionQueue chan *CompressionJob
	pending          map[int64]struct{}
	pendingMu        sync.Mutex
	workerWaitGroup  sync.WaitGroup
	loopWaitGroup    sync.WaitGroup
	workerCtx        context.Context
	workerCancel     context.CancelFunc

	// State management
	started      bool
	shuttingDown bool
	mu           sync.RWMutex
}

// New creates an engine from deps. Use DefaultConfig() for sensible defaults.
func New(deps Dependencies, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultConfig().JobTimeout
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		config:    cfg,
		store:     deps.Store,
		logger:    logger,
		generator: deps.Generator,
		pending:   make(map[int64]struct{}),
	}

	var (
		episodeSummarizer   memory.EpisodeSummarizer
		narrativeSummarizer memory.NarrativeSummarizer
	)
	if deps.Summarizer != nil {
		episodeSummarizer = deps.Summarizer
		narrativeSummarizer = deps.Summarizer
	}

	e.working = memory.NewWorkingMemory(deps.Store, memory.WorkingMemoryConfig{
		Capacity: cfg.WorkingCapacity,
		Now:      deps.Now,
		Logger:   logger.Named("working"),
	})
	e.facts = memory.NewLongTermMemory(deps.Store, memory.LongTermMemoryConfig{
		Vectors:  deps.Vectors,
		Embedder: deps.Embedder,
		Now:      deps.Now,
		Logger:   logger.Named("facts"),
	})
	e.world = memory.NewWorldStates(deps.Store, deps.Now)
	e.narrative = memory.NewNarrativeSummaries(deps.Store, memory.NarrativeSummariesConfig{
		Summarizer: narrativeSummarizer,
		MaxWords:   cfg.SummaryMaxWords,
		Now:        deps.Now,
		Logger:     logger.Named("narrative"),
	})
	e.compressor = memory.NewEpisodeCompressor(deps.Store, deps.Store, memory.CompressorConfig{
		Summarizer:       episodeSummarizer,
		Facts:            e.facts,
		DefaultAgeDays:   cfg.CompressionAgeDays,
		PromoteThreshold: cfg.PromoteThreshold,
		Now:              deps.Now,
		Logger:           logger.Named("compressor"),
	})
	e.assembler = memory.NewContextAssembler(memory.AssemblerConfig{
		Events:     e.working,
		Episodes:   e.compressor,
		Facts:      e.facts,
		World:      e.world,
		Summaries:  e.narrative,
		EventLimit: cfg.WorkingCapacity,
		Logger:     logger.Named("assembler"),
	})
	e.cache = cache.New(cache.Config{
		Volatile:        deps.Volatile,
		Durable:         deps.Store,
		L1TTL:           cfg.L1TTL,
		L3TTL:           cfg.L3TTL,
		VolatileTimeout: cfg.VolatileTimeout,
		Now:             deps.Now,
		Logger:          logger.Named("cache"),
	})

	return e, nil
}

// RecordEvent appends an event to the entity's working memory.
func (e *Engine) RecordEvent(ctx context.Context, entityID int64, event types.MemoryEvent) (*types.MemoryEvent, error) {
	return e.working.Append(ctx, entityID, event)
}

// RecentEvents returns the entity's most recent events, oldest first.
func (e *Engine) RecentEvents(ctx context.Context, entityID int64, limit int) ([]types.MemoryEvent, error) {
	return e.working.Recent(ctx, entityID, limit)
}

// CompressAged folds events older than ageDays into an episode. A negative
// ageDays uses the configured age. Returns (nil, nil) when nothing qualifies.
func (e *Engine) CompressAged(ctx context.Context, entityID int64, ageDays int) (*types.EpisodeSummary, error) {
	return e.compressor.Compress(ctx, entityID, ageDays)
}

// Episodes returns the entity's episodes, newest first.
func (e *Engine) Episodes(ctx context.Context, entityID int64, limit int) ([]types.EpisodeSummary, error) {
	return e.compressor.ListEpisodes(ctx, entityID, limit)
}

// RememberFact upserts a long-term fact.
func (e *Engine) RememberFact(ctx context.Context, entityID int64, content string, importance float64) (*types.LongTermFact, error) {
	return e.facts.Remember(ctx, entityID, content, importance)
}

// ReinforceFact adds delta to a fact's importance and returns the result.
func (e *Engine) ReinforceFact(ctx context.Context, entityID int64, content string, delta float64) (float64, error) {
	return e.facts.Reinforce(ctx, entityID, content, delta)
}

// TopFacts returns the entity's most important facts.
func (e *Engine) TopFacts(ctx context.Context, entityID int64, limit int) ([]types.LongTermFact, error) {
	return e.facts.Top(ctx, entityID, limit)
}

// SearchFacts returns the facts best matching query.
func (e *Engine) SearchFacts(ctx context.Context, entityID int64, query string, limit int) ([]types.LongTermFact, error) {
	return e.facts.Search(ctx, entityID, query, limit)
}

// WorldState returns the entity's world state.
func (e *Engine) WorldState(ctx context.Context, entityID int64) (*types.WorldState, error) {
	return e.world.Get(ctx, entityID)
}

// UpdateWorldState merges patch into the entity's world state.
func (e *Engine) UpdateWorldState(ctx context.Context, entityID int64, patch types.WorldStatePatch) (*types.WorldState, error) {
	return e.world.Update(ctx, entityID, patch)
}

// NarrativeSummary returns the entity's rolling summary.
func (e *Engine) NarrativeSummary(ctx context.Context, entityID int64) (string, error) {
	return e.narrative.Current(ctx, entityID)
}

// UpdateNarrativeSummary folds a development into the rolling summary.
func (e *Engine) UpdateNarrativeSummary(ctx context.Context, entityID int64, development string) (string, error) {
	return e.narrative.Update(ctx, entityID, development)
}

// ResetNarrativeSummary restores the default summary.
func (e *Engine) ResetNarrativeSummary(ctx context.Context, entityID int64) (string, error) {
	return e.narrative.Reset(ctx, entityID)
}

// AssembleContext composes every memory tier for entityID. It never fails.
func (e *Engine) AssembleContext(ctx context.Context, entityID int64) *types.ContextBundle {
	return e.assembler.Assemble(ctx, entityID)
}

// CacheGet looks up a cached response.
func (e *Engine) CacheGet(ctx context.Context, req cache.Request) (string, bool) {
	return e.cache.GetL1(ctx, req)
}

// CacheSet stores a response. A non-positive ttl uses the configured L1 TTL.
func (e *Engine) CacheSet(ctx context.Context, req cache.Request, payload string, ttl time.Duration) {
	e.cache.SetL1(ctx, req, payload, ttl)
}

// CacheGetStatic looks up a static context component.
func (e *Engine) CacheGetStatic(ctx context.Context, componentType, identifier string) (string, bool) {
	return e.cache.GetL3(ctx, componentType, identifier)
}

// CacheSetStatic stores a static context component.
func (e *Engine) CacheSetStatic(ctx context.Context, componentType, identifier, payload string, ttl time.Duration) {
	e.cache.SetL3(ctx, componentType, identifier, payload, ttl)
}

// CacheInvalidate removes cached entries matching the glob pattern and
// returns how many were removed.
func (e *Engine) CacheInvalidate(ctx context.Context, pattern string) int {
	return e.cache.Invalidate(ctx, pattern)
}

// CacheStats returns a snapshot of the cache counters.
func (e *Engine) CacheStats() types.CacheStatistics {
	return e.cache.Stats()
}

// ResetCacheStats zeroes the cache counters.
func (e *Engine) ResetCacheStats() {
	e.cache.ResetStats()
}

// PurgeCache deletes expired durable cache rows.
func (e *Engine) PurgeCache(ctx context.Context) (int, error) {
	return e.cache.PurgeExpired(ctx)
}

// Generate returns the cached response for req, invoking the configured
// generator on a miss. The bool reports a cache hit.
func (e *Engine) Generate(ctx context.Context, req cache.Request) (string, bool, error) {
	gen := e.generator
	if gen == nil {
		gen = cache.GeneratorFunc(func(context.Context, cache.Request) (string, error) {
			return "", ErrNoGenerator
		})
	}
	return e.cache.Generate(ctx, req, gen)
}

// Start starts the compression worker pool and the maintenance loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}

	e.logger.Info("starting engine",
		zap.Int("workers", e.config.NumWorkers),
		zap.Duration("compression_interval", e.config.CompressionInterval),
		zap.Duration("purge_interval", e.config.PurgeInterval))

	e.compressionQueue = make(chan *CompressionJob, e.config.QueueSize)
	e.pendingMu.Lock()
	e.pending = make(map[int64]struct{})
	e.pendingMu.Unlock()
	e.workerCtx, e.workerCancel = context.WithCancel(ctx)

	e.startWorkerPool()
	e.startLoops(e.workerCtx)

	e.started = true
	return nil
}

// Shutdown stops the maintenance loops, closes the compression queue and
// waits for queued jobs to drain, bounded by ShutdownTimeout and ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine not started")
	}

	e.logger.Info("shutting down engine")

	// Prevents requeueing; the queue is closed under the same lock.
	e.shuttingDown = true
	if e.workerCancel != nil {
		e.workerCancel()
	}
	close(e.compressionQueue)
	e.mu.Unlock()

	e.loopWaitGroup.Wait()
	err := e.stopWorkerPool(ctx)

	e.mu.Lock()
	e.started = false
	e.shuttingDown = false
	e.mu.Unlock()

	e.cache.Wait()
	e.logger.Info("engine shut down")
	return err
}

// Close releases the cache and the store. Call Shutdown first if started.
func (e *Engine) Close() error {
	e.cache.Wait()
	cacheErr := e.cache.Close()
	storeErr := e.store.Close()
	return errors.Join(cacheErr, storeErr)
}
