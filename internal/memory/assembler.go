package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// Sources of a ContextBundle. *WorkingMemory, *EpisodeCompressor,
// *LongTermMemory, *WorldStates and *NarrativeSummaries implement them.
type (
	EventSource interface {
		Recent(ctx context.Context, entityID int64, limit int) ([]types.MemoryEvent, error)
	}
	EpisodeSource interface {
		ListEpisodes(ctx context.Context, entityID int64, limit int) ([]types.EpisodeSummary, error)
	}
	FactSource interface {
		Top(ctx context.Context, entityID int64, limit int) ([]types.LongTermFact, error)
	}
	WorldSource interface {
		Get(ctx context.Context, entityID int64) (*types.WorldState, error)
	}
	SummarySource interface {
		Current(ctx context.Context, entityID int64) (string, error)
	}
)

// AssemblerConfig configures a ContextAssembler.
type AssemblerConfig struct {
	Events    EventSource
	Episodes  EpisodeSource
	Facts     FactSource
	World     WorldSource
	Summaries SummarySource

	EventLimit   int           // default: the working memory capacity (0 = whole window)
	EpisodeLimit int           // default: 5
	FactLimit    int           // default: 10
	Timeout      time.Duration // per section, default: 2s

	Logger *zap.Logger
}

// ContextAssembler composes every memory tier into one ContextBundle. The
// sections are fetched concurrently and independently: a missing source,
// an error, a timeout or a panic in one section leaves that section at its
// empty default and marks it degraded. Assemble never fails.
type ContextAssembler struct {
	cfg AssemblerConfig
}

// NewContextAssembler creates an assembler. Nil sources are allowed and
// yield empty, degraded sections.
func NewContextAssembler(cfg AssemblerConfig) *ContextAssembler {
	if cfg.EpisodeLimit <= 0 {
		cfg.EpisodeLimit = 5
	}
	if cfg.FactLimit <= 0 {
		cfg.FactLimit = DefaultFactLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &ContextAssembler{cfg: cfg}
}

// Assemble builds the context bundle for entityID.
func (a *ContextAssembler) Assemble(ctx context.Context, entityID int64) *types.ContextBundle {
	bundle := &types.ContextBundle{
		EntityID:         entityID,
		WorkingMemory:    []types.MemoryEvent{},
		EpisodeSummaries: []types.EpisodeSummary{},
		LongTermFacts:    []types.LongTermFact{},
		WorldState:       *types.NewWorldState(entityID),
		NarrativeSummary: DefaultNarrativeSummary,
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	section := func(name string, available bool, fetch func(ctx context.Context) error) {
		if !available {
			mu.Lock()
			bundle.Degraded = append(bundle.Degraded, name)
			mu.Unlock()
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.fetch(ctx, entityID, name, fetch); err != nil {
				mu.Lock()
				bundle.Degraded = append(bundle.Degraded, name)
				mu.Unlock()
			}
		}()
	}

	section(types.SectionWorkingMemory, a.cfg.Events != nil, func(ctx context.Context) error {
		events, err := a.cfg.Events.Recent(ctx, entityID, a.cfg.EventLimit)
		if err == nil && events != nil {
			mu.Lock()
			bundle.WorkingMemory = events
			mu.Unlock()
		}
		return err
	})
	section(types.SectionEpisodeSummaries, a.cfg.Episodes != nil, func(ctx context.Context) error {
		episodes, err := a.cfg.Episodes.ListEpisodes(ctx, entityID, a.cfg.EpisodeLimit)
		if err == nil && episodes != nil {
			mu.Lock()
			bundle.EpisodeSummaries = episodes
			mu.Unlock()
		}
		return err
	})
	section(types.SectionLongTermFacts, a.cfg.Facts != nil, func(ctx context.Context) error {
		facts, err := a.cfg.Facts.Top(ctx, entityID, a.cfg.FactLimit)
		if err == nil && facts != nil {
			mu.Lock()
			bundle.LongTermFacts = facts
			mu.Unlock()
		}
		return err
	})
	section(types.SectionWorldState, a.cfg.World != nil, func(ctx context.Context) error {
		state, err := a.cfg.World.Get(ctx, entityID)
		if err == nil && state != nil {
			state.Normalize()
			mu.Lock()
			bundle.WorldState = *state
			mu.Unlock()
		}
		return err
	})
	section(types.SectionNarrativeSummary, a.cfg.Summaries != nil, func(ctx context.Context) error {
		summary, err := a.cfg.Summaries.Current(ctx, entityID)
		if err == nil && summary != "" {
			mu.Lock()
			bundle.NarrativeSummary = summary
			mu.Unlock()
		}
		return err
	})

	wg.Wait()
	sort.Strings(bundle.Degraded)
	return bundle
}

// fetch runs one section with its own timeout and turns a panic into an error.
func (a *ContextAssembler) fetch(ctx context.Context, entityID int64, name string, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			a.cfg.Logger.Warn("context section degraded",
				zap.Int64("entity_id", entityID),
				zap.String("section", name),
				zap.Error(err))
		}
	}()
	return fn(ctx)
}
