package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// WorldStates reads and merges the per-entity world state. The state is
// created on first access and is only ever changed by partial merges.
type WorldStates struct {
	store storage.WorldStore
	now   func() time.Time
}

// NewWorldStates creates a WorldStates over store. now defaults to time.Now.
func NewWorldStates(store storage.WorldStore, now func() time.Time) *WorldStates {
	return &WorldStates{store: store, now: nowFunc(now)}
}

// Get returns the entity's state, creating the default one if needed.
func (w *WorldStates) Get(ctx context.Context, entityID int64) (*types.WorldState, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	state, err := w.store.GetWorldState(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("world state for entity %d: %w", entityID, err)
	}
	return state, nil
}

// Update merges patch into the entity's state: relationships and flags
// key by key, locations by set union, the summary only when set.
func (w *WorldStates) Update(ctx context.Context, entityID int64, patch types.WorldStatePatch) (*types.WorldState, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	if patch.IsEmpty() {
		return w.Get(ctx, entityID)
	}
	state, err := w.store.UpdateWorldState(ctx, entityID, patch, w.now())
	if err != nil {
		return nil, fmt.Errorf("update world state for entity %d: %w", entityID, err)
	}
	return state, nil
}
