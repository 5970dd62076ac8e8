package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const (
	// DefaultSummaryMaxWords caps the rolling narrative summary.
	DefaultSummaryMaxWords = 500

	// orientationWords is how much of the opening survives compaction.
	orientationWords = 100

	// ElisionMarker joins the kept head and tail of a compacted summary.
	ElisionMarker = "[...]"

	// DefaultNarrativeSummary is the introduction used before anything
	// has happened and after a reset.
	DefaultNarrativeSummary = "The story begins. A new hero sets out into the world with little more than a name, " +
		"a few belongings and a purpose still waiting to be discovered."
)

// NarrativeSummariesConfig configures NarrativeSummaries.
type NarrativeSummariesConfig struct {
	// Summarizer merges developments into the summary. Nil always uses
	// the deterministic compaction fallback.
	Summarizer NarrativeSummarizer
	MaxWords   int
	Now        func() time.Time
	Logger     *zap.Logger
}

// NarrativeSummaries maintains one bounded rolling summary per entity,
// stored in the entity's world state.
type NarrativeSummaries struct {
	world      storage.WorldStore
	summarizer NarrativeSummarizer
	maxWords   int
	locks      *keyedMutex
	now        func() time.Time
	logger     *zap.Logger
}

// NewNarrativeSummaries creates NarrativeSummaries over world.
func NewNarrativeSummaries(world storage.WorldStore, cfg NarrativeSummariesConfig) *NarrativeSummaries {
	if cfg.MaxWords <= orientationWords+1 {
		cfg.MaxWords = DefaultSummaryMaxWords
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &NarrativeSummaries{
		world:      world,
		summarizer: cfg.Summarizer,
		maxWords:   cfg.MaxWords,
		locks:      newKeyedMutex(),
		now:        nowFunc(cfg.Now),
		logger:     cfg.Logger,
	}
}

// Current returns the entity's summary, or DefaultNarrativeSummary when
// none has been written.
func (n *NarrativeSummaries) Current(ctx context.Context, entityID int64) (string, error) {
	if err := validateEntity(entityID); err != nil {
		return "", err
	}
	state, err := n.world.GetWorldState(ctx, entityID)
	if err != nil {
		return "", fmt.Errorf("narrative summary for entity %d: %w", entityID, err)
	}
	if strings.TrimSpace(state.NarrativeSummary) == "" {
		return DefaultNarrativeSummary, nil
	}
	return state.NarrativeSummary, nil
}

// Update folds development into the entity's summary and stores the result,
// which never exceeds MaxWords. Updates for one entity are serialised so
// no development is lost to a concurrent read-modify-write.
func (n *NarrativeSummaries) Update(ctx context.Context, entityID int64, development string) (string, error) {
	if err := validateEntity(entityID); err != nil {
		return "", err
	}
	development = strings.Join(strings.Fields(development), " ")
	if development == "" {
		return "", fmt.Errorf("%w: development text is required", storage.ErrInvalidInput)
	}

	unlock := n.locks.Lock(entityID)
	defer unlock()

	prior, err := n.Current(ctx, entityID)
	if err != nil {
		return "", err
	}

	merged := n.merge(ctx, entityID, prior, development)
	if err := n.store(ctx, entityID, merged); err != nil {
		return "", err
	}
	return merged, nil
}

func (n *NarrativeSummaries) merge(ctx context.Context, entityID int64, prior, development string) string {
	if n.summarizer != nil {
		merged, err := n.summarizer.MergeNarrative(ctx, prior, development, n.maxWords)
		if err == nil {
			return CompactSummary(merged, n.maxWords)
		}
		n.logger.Warn("narrative summarizer failed; using compaction fallback",
			zap.Int64("entity_id", entityID), zap.Error(err))
	}
	return FallbackNarrative(prior, development, n.maxWords)
}

// Reset restores the default summary, for example at a new chapter.
func (n *NarrativeSummaries) Reset(ctx context.Context, entityID int64) (string, error) {
	if err := validateEntity(entityID); err != nil {
		return "", err
	}
	unlock := n.locks.Lock(entityID)
	defer unlock()

	if err := n.store(ctx, entityID, DefaultNarrativeSummary); err != nil {
		return "", err
	}
	return DefaultNarrativeSummary, nil
}

func (n *NarrativeSummaries) store(ctx context.Context, entityID int64, summary string) error {
	_, err := n.world.UpdateWorldState(ctx, entityID, types.WorldStatePatch{NarrativeSummary: &summary}, n.now())
	if err != nil {
		return fmt.Errorf("store narrative summary for entity %d: %w", entityID, err)
	}
	return nil
}

// FallbackNarrative appends a templated sentence about development to prior
// and compacts the result to maxWords.
func FallbackNarrative(prior, development string, maxWords int) string {
	sentence := "Most recently: " + strings.TrimSpace(development)
	if !strings.HasSuffix(sentence, ".") && !strings.HasSuffix(sentence, "!") && !strings.HasSuffix(sentence, "?") {
		sentence += "."
	}
	return CompactSummary(strings.TrimSpace(prior)+" "+sentence, maxWords)
}

// CompactSummary bounds text to maxWords. Over-long text keeps its first
// 100 words for orientation and its most recent words for recency, joined
// by ElisionMarker; the marker counts toward the budget.
func CompactSummary(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	if maxWords <= orientationWords+1 {
		return strings.Join(words[len(words)-maxWords:], " ")
	}
	tail := maxWords - orientationWords - 1
	kept := make([]string, 0, maxWords)
	kept = append(kept, words[:orientationWords]...)
	kept = append(kept, ElisionMarker)
	kept = append(kept, words[len(words)-tail:]...)
	return strings.Join(kept, " ")
}

// WordCount returns the number of whitespace separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
