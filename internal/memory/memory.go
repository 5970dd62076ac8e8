// Package memory implements the narrative memory hierarchy kept for every
// entity (player character):
//
//   - WorkingMemory: a bounded window of recent events in full detail
//   - EpisodeCompressor: folds aged events into EpisodeSummaries
//   - LongTermMemory: importance-ranked durable facts
//   - WorldStates: the merged per-entity world state record
//   - NarrativeSummaries: one bounded rolling prose summary per entity
//   - ContextAssembler: composes all of the above for a generation request
//
// Storage errors from writes are returned to the caller. Summarizer and
// embedder failures are logged and replaced by deterministic fallbacks.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// EpisodeSummarizer produces the text of an episode from raw events.
type EpisodeSummarizer interface {
	SummarizeEvents(ctx context.Context, events []types.MemoryEvent) (string, error)
}

// NarrativeSummarizer merges a new development into a prior summary.
type NarrativeSummarizer interface {
	MergeNarrative(ctx context.Context, prior, development string, maxWords int) (string, error)
}

// Embedder produces vectors for semantic fact search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

func validateEntity(entityID int64) error {
	if entityID <= 0 {
		return fmt.Errorf("%w: entity id must be positive, got %d", storage.ErrInvalidInput, entityID)
	}
	return nil
}

func nowFunc(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
