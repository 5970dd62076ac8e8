package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const (
	// DefaultCompressionAgeDays is the age after which events are compressed.
	DefaultCompressionAgeDays = 7

	// DefaultPromoteThreshold is the event importance at or above which an
	// event is remembered as a long-term fact when compressed.
	DefaultPromoteThreshold = 0.7

	// maxEpisodeEvents caps the events folded into a single episode; any
	// remainder is picked up by the next compression.
	maxEpisodeEvents = storage.MaxListLimit
)

// CompressorConfig configures an EpisodeCompressor.
type CompressorConfig struct {
	// Summarizer writes episode text. Nil always uses the enumeration fallback.
	Summarizer EpisodeSummarizer
	// Facts receives promoted events. Nil disables promotion.
	Facts *LongTermMemory

	DefaultAgeDays   int
	PromoteThreshold float64
	Now              func() time.Time
	Logger           *zap.Logger
}

// EpisodeCompressor folds aged events into episode summaries.
//
// A compression claims the entity's aged, unarchived events and archives
// them together with the new episode in one transaction that only succeeds
// if every claimed event is still unarchived. Compressions for one entity
// are also serialised in process, so the optimistic check only fires when
// another process compresses the same entity.
type EpisodeCompressor struct {
	events     storage.EventStore
	episodes   storage.EpisodeStore
	summarizer EpisodeSummarizer
	facts      *LongTermMemory
	ageDays    int
	threshold  float64
	locks      *keyedMutex
	now        func() time.Time
	logger     *zap.Logger
}

// NewEpisodeCompressor creates a compressor.
func NewEpisodeCompressor(events storage.EventStore, episodes storage.EpisodeStore, cfg CompressorConfig) *EpisodeCompressor {
	if cfg.DefaultAgeDays <= 0 {
		cfg.DefaultAgeDays = DefaultCompressionAgeDays
	}
	if cfg.PromoteThreshold <= 0 {
		cfg.PromoteThreshold = DefaultPromoteThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &EpisodeCompressor{
		events:     events,
		episodes:   episodes,
		summarizer: cfg.Summarizer,
		facts:      cfg.Facts,
		ageDays:    cfg.DefaultAgeDays,
		threshold:  cfg.PromoteThreshold,
		locks:      newKeyedMutex(),
		now:        nowFunc(cfg.Now),
		logger:     cfg.Logger,
	}
}

// Cutoff returns the creation time before which events count as aged.
// A negative ageDays uses the configured default.
func (c *EpisodeCompressor) Cutoff(ageDays int) time.Time {
	if ageDays < 0 {
		ageDays = c.ageDays
	}
	return c.now().Add(-time.Duration(ageDays) * 24 * time.Hour)
}

// Compress folds the entity's events older than ageDays into one episode
// and archives them. It returns (nil, nil) when nothing qualifies, so
// repeated calls never produce duplicate or empty episodes. A negative
// ageDays uses the configured default.
func (c *EpisodeCompressor) Compress(ctx context.Context, entityID int64, ageDays int) (*types.EpisodeSummary, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(entityID)
	defer unlock()

	cutoff := c.Cutoff(ageDays)
	events, err := c.events.AgedEvents(ctx, entityID, cutoff, maxEpisodeEvents)
	if err != nil {
		return nil, fmt.Errorf("aged events for entity %d: %w", entityID, err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	episode := &types.EpisodeSummary{
		ID:                   uuid.NewString(),
		EntityID:             entityID,
		SummaryText:          c.summarize(ctx, entityID, events),
		EventCount:           len(events),
		ParticipantsInvolved: types.UnionParticipants(events),
		TotalStatDeltas:      types.SumStatDeltas(events),
		PeriodStart:          events[0].CreatedAt,
		PeriodEnd:            events[len(events)-1].CreatedAt,
		CreatedAt:            c.now(),
	}

	// Promote first; a failed archive leaves the events for a retry.
	if err := c.promote(ctx, entityID, events); err != nil {
		return nil, err
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	if err := c.episodes.ArchiveEpisode(ctx, episode, ids); err != nil {
		return nil, fmt.Errorf("archive episode for entity %d: %w", entityID, err)
	}

	c.logger.Info("episode compressed",
		zap.Int64("entity_id", entityID),
		zap.String("episode_id", episode.ID),
		zap.Int("event_count", episode.EventCount),
		zap.Time("period_start", episode.PeriodStart),
		zap.Time("period_end", episode.PeriodEnd))
	return episode, nil
}

func (c *EpisodeCompressor) summarize(ctx context.Context, entityID int64, events []types.MemoryEvent) string {
	if c.summarizer != nil {
		text, err := c.summarizer.SummarizeEvents(ctx, events)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		c.logger.Warn("episode summarizer failed; using enumeration fallback",
			zap.Int64("entity_id", entityID), zap.Error(err))
	}
	return FallbackEpisodeSummary(events)
}

func (c *EpisodeCompressor) promote(ctx context.Context, entityID int64, events []types.MemoryEvent) error {
	if c.facts == nil {
		return nil
	}
	for _, ev := range events {
		importance := ev.Importance()
		if importance < c.threshold {
			continue
		}
		if _, err := c.facts.Remember(ctx, entityID, ev.Description, importance); err != nil {
			return fmt.Errorf("promote event %s: %w", ev.ID, err)
		}
	}
	return nil
}

// FallbackEpisodeSummary enumerates event descriptions in order.
func FallbackEpisodeSummary(events []types.MemoryEvent) string {
	parts := make([]string, len(events))
	for i, ev := range events {
		parts[i] = fmt.Sprintf("(%d) %s", i+1, strings.TrimRight(strings.TrimSpace(ev.Description), "."))
	}
	noun := "events"
	if len(events) == 1 {
		noun = "event"
	}
	return fmt.Sprintf("%d %s: %s.", len(events), noun, strings.Join(parts, "; "))
}

// ListEpisodes returns the entity's episodes, newest first.
func (c *EpisodeCompressor) ListEpisodes(ctx context.Context, entityID int64, limit int) ([]types.EpisodeSummary, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	episodes, err := c.episodes.ListEpisodes(ctx, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("episodes for entity %d: %w", entityID, err)
	}
	if episodes == nil {
		episodes = []types.EpisodeSummary{}
	}
	return episodes, nil
}
