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

// DefaultWorkingCapacity is the per-entity working memory window size.
const DefaultWorkingCapacity = 10

// WorkingMemoryConfig configures a WorkingMemory.
type WorkingMemoryConfig struct {
	Capacity int
	Now      func() time.Time
	Logger   *zap.Logger
}

// WorkingMemory is the bounded per-entity window of recent events. The
// append and the trim back to Capacity happen in one storage transaction,
// so concurrent appends for an entity never leave more than Capacity
// events in the window. Trimmed events stay in the event log until they
// are compressed.
type WorkingMemory struct {
	store    storage.EventStore
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// NewWorkingMemory creates a WorkingMemory over store.
func NewWorkingMemory(store storage.EventStore, cfg WorkingMemoryConfig) *WorkingMemory {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultWorkingCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &WorkingMemory{
		store:    store,
		capacity: cfg.Capacity,
		now:      nowFunc(cfg.Now),
		logger:   cfg.Logger,
	}
}

// Capacity returns the window size.
func (w *WorkingMemory) Capacity() int {
	return w.capacity
}

// Append records event for entityID. It fills in the ID and CreatedAt when
// empty and normalises participants to a sorted set. Storage failures are
// returned: losing a recent event breaks narrative continuity.
func (w *WorkingMemory) Append(ctx context.Context, entityID int64, event types.MemoryEvent) (*types.MemoryEvent, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	event.Description = strings.TrimSpace(event.Description)
	if event.Description == "" {
		return nil, fmt.Errorf("%w: event description is required", storage.ErrInvalidInput)
	}
	if event.EventType == "" {
		event.EventType = "event"
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = w.now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	event.EntityID = entityID
	event.Participants = types.NormalizeParticipants(event.Participants)
	event.ArchivedAt = nil
	event.EpisodeID = ""

	if err := w.store.AppendEvent(ctx, &event, w.capacity); err != nil {
		return nil, fmt.Errorf("record event for entity %d: %w", entityID, err)
	}

	w.logger.Debug("event recorded",
		zap.Int64("entity_id", entityID),
		zap.String("event_id", event.ID),
		zap.String("event_type", event.EventType))
	return &event, nil
}

// Recent returns up to min(limit, Capacity) window events, oldest first.
// A non-positive limit returns the whole window.
func (w *WorkingMemory) Recent(ctx context.Context, entityID int64, limit int) ([]types.MemoryEvent, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > w.capacity {
		limit = w.capacity
	}
	events, err := w.store.RecentEvents(ctx, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent events for entity %d: %w", entityID, err)
	}
	if events == nil {
		events = []types.MemoryEvent{}
	}
	return events, nil
}

// Count returns the number of events in the entity's window.
func (w *WorkingMemory) Count(ctx context.Context, entityID int64) (int, error) {
	if err := validateEntity(entityID); err != nil {
		return 0, err
	}
	return w.store.CountWindow(ctx, entityID)
}
