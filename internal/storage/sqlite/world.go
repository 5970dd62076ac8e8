package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// GetWorldState returns the entity's world state, creating it on first access.
func (s *Store) GetWorldState(ctx context.Context, entityID int64) (*types.WorldState, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin get world state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := loadWorldState(ctx, tx, entityID)
	if errors.Is(err, storage.ErrNotFound) {
		state = types.NewWorldState(entityID)
		state.UpdatedAt = time.Now().UTC()
		if err := saveWorldState(ctx, tx, state); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit get world state: %w", err)
	}
	return state, nil
}

// UpdateWorldState merges patch into the stored state. The single SQLite
// connection serialises concurrent read-modify-write transactions.
func (s *Store) UpdateWorldState(ctx context.Context, entityID int64, patch types.WorldStatePatch, at time.Time) (*types.WorldState, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin update world state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := loadWorldState(ctx, tx, entityID)
	if errors.Is(err, storage.ErrNotFound) {
		state = types.NewWorldState(entityID)
	} else if err != nil {
		return nil, err
	}

	state.Apply(patch, at)
	if err := saveWorldState(ctx, tx, state); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit update world state: %w", err)
	}
	return state, nil
}

func loadWorldState(ctx context.Context, q queryer, entityID int64) (*types.WorldState, error) {
	var (
		rels, locs, flags string
		updatedAt         int64
	)
	state := &types.WorldState{EntityID: entityID}
	err := q.QueryRowContext(ctx, `
		SELECT npc_relationships, unlocked_locations, story_flags, narrative_summary, updated_at
		FROM world_states WHERE entity_id = ?`, entityID).
		Scan(&rels, &locs, &flags, &state.NarrativeSummary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load world state: %w", err)
	}

	if err := json.Unmarshal([]byte(rels), &state.NPCRelationships); err != nil {
		return nil, fmt.Errorf("sqlite: decode npc relationships: %w", err)
	}
	if err := json.Unmarshal([]byte(locs), &state.UnlockedLocations); err != nil {
		return nil, fmt.Errorf("sqlite: decode unlocked locations: %w", err)
	}
	if err := json.Unmarshal([]byte(flags), &state.StoryFlags); err != nil {
		return nil, fmt.Errorf("sqlite: decode story flags: %w", err)
	}
	state.UpdatedAt = fromUnix(updatedAt)
	state.Normalize()
	return state, nil
}

func saveWorldState(ctx context.Context, q queryer, state *types.WorldState) error {
	state.Normalize()
	rels, err := marshalJSON(state.NPCRelationships)
	if err != nil {
		return fmt.Errorf("sqlite: marshal npc relationships: %w", err)
	}
	locs, err := marshalJSON(state.UnlockedLocations)
	if err != nil {
		return fmt.Errorf("sqlite: marshal unlocked locations: %w", err)
	}
	flags, err := marshalJSON(state.StoryFlags)
	if err != nil {
		return fmt.Errorf("sqlite: marshal story flags: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO world_states (entity_id, npc_relationships, unlocked_locations, story_flags,
			narrative_summary, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			npc_relationships = excluded.npc_relationships,
			unlocked_locations = excluded.unlocked_locations,
			story_flags = excluded.story_flags,
			narrative_summary = excluded.narrative_summary,
			updated_at = excluded.updated_at`,
		state.EntityID, rels, locs, flags, state.NarrativeSummary, toUnix(state.UpdatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: save world state: %w", err)
	}
	return nil
}
