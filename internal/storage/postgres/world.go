package postgres

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
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO world_states (entity_id, updated_at) VALUES ($1, $2)
		ON CONFLICT (entity_id) DO NOTHING`, entityID, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("postgres: ensure world state: %w", err)
	}
	return loadWorldState(ctx, s.db, entityID, false)
}

// UpdateWorldState merges patch into the stored state while holding the row lock.
func (s *Store) UpdateWorldState(ctx context.Context, entityID int64, patch types.WorldStatePatch, at time.Time) (*types.WorldState, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin update world state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO world_states (entity_id, updated_at) VALUES ($1, $2)
		ON CONFLICT (entity_id) DO NOTHING`, entityID, at.UTC()); err != nil {
		return nil, fmt.Errorf("postgres: ensure world state: %w", err)
	}

	state, err := loadWorldState(ctx, tx, entityID, true)
	if err != nil {
		return nil, err
	}
	state.Apply(patch, at.UTC())
	state.Normalize()

	rels, err := marshalJSON(state.NPCRelationships)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal npc relationships: %w", err)
	}
	locs, err := marshalJSON(state.UnlockedLocations)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal unlocked locations: %w", err)
	}
	flags, err := marshalJSON(state.StoryFlags)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal story flags: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE world_states SET npc_relationships = $2, unlocked_locations = $3, story_flags = $4,
			narrative_summary = $5, updated_at = $6
		WHERE entity_id = $1`,
		entityID, rels, locs, flags, state.NarrativeSummary, state.UpdatedAt); err != nil {
		return nil, fmt.Errorf("postgres: save world state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit update world state: %w", err)
	}
	return state, nil
}

func loadWorldState(ctx context.Context, q rowQueryer, entityID int64, forUpdate bool) (*types.WorldState, error) {
	query := `SELECT npc_relationships, unlocked_locations, story_flags, narrative_summary, updated_at
		FROM world_states WHERE entity_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var rels, locs, flags []byte
	state := &types.WorldState{EntityID: entityID}
	err := q.QueryRowContext(ctx, query, entityID).
		Scan(&rels, &locs, &flags, &state.NarrativeSummary, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load world state: %w", err)
	}

	if err := json.Unmarshal(rels, &state.NPCRelationships); err != nil {
		return nil, fmt.Errorf("postgres: decode npc relationships: %w", err)
	}
	if err := json.Unmarshal(locs, &state.UnlockedLocations); err != nil {
		return nil, fmt.Errorf("postgres: decode unlocked locations: %w", err)
	}
	if err := json.Unmarshal(flags, &state.StoryFlags); err != nil {
		return nil, fmt.Errorf("postgres: decode story flags: %w", err)
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	state.Normalize()
	return state, nil
}
