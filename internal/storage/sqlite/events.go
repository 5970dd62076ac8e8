package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const eventColumns = `id, entity_id, event_type, description, participants, stat_deltas,
	context, created_at, archived_at, episode_id`

// AppendEvent inserts event and trims the entity's window to capacity in the
// same transaction.
func (s *Store) AppendEvent(ctx context.Context, event *types.MemoryEvent, capacity int) error {
	if event == nil {
		return storage.ErrInvalidInput
	}
	if event.ID == "" || event.EntityID <= 0 {
		return fmt.Errorf("%w: event id and positive entity id are required", storage.ErrInvalidInput)
	}
	if capacity < 1 {
		return fmt.Errorf("%w: capacity must be positive", storage.ErrInvalidInput)
	}

	participants, err := marshalJSON(nonNilStrings(event.Participants))
	if err != nil {
		return fmt.Errorf("sqlite: marshal participants: %w", err)
	}
	deltas, err := marshalJSON(nonNilDeltas(event.StatDeltas))
	if err != nil {
		return fmt.Errorf("sqlite: marshal stat deltas: %w", err)
	}
	evCtx, err := marshalJSON(nonNilContext(event.Context))
	if err != nil {
		return fmt.Errorf("sqlite: marshal context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_events (id, entity_id, event_type, description, participants,
			stat_deltas, context, created_at, in_window)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		event.ID, event.EntityID, event.EventType, event.Description, participants,
		deltas, evCtx, toUnix(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_events SET in_window = 0
		WHERE entity_id = ? AND in_window = 1 AND seq NOT IN (
			SELECT seq FROM memory_events
			WHERE entity_id = ? AND in_window = 1
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)`, event.EntityID, event.EntityID, capacity)
	if err != nil {
		return fmt.Errorf("sqlite: trim window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit append: %w", err)
	}
	return nil
}

// RecentEvents returns the newest limit window events in chronological order.
func (s *Store) RecentEvents(ctx context.Context, entityID int64, limit int) ([]types.MemoryEvent, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	if limit < 1 {
		return []types.MemoryEvent{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM memory_events
		WHERE entity_id = ? AND in_window = 1
		ORDER BY created_at DESC, seq DESC
		LIMIT ?`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// CountWindow returns the number of events in the entity's window.
func (s *Store) CountWindow(ctx context.Context, entityID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_events WHERE entity_id = ? AND in_window = 1`, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count window: %w", err)
	}
	return n, nil
}

// AgedEvents returns unarchived events older than cutoff, oldest first.
func (s *Store) AgedEvents(ctx context.Context, entityID int64, cutoff time.Time, limit int) ([]types.MemoryEvent, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM memory_events
		WHERE entity_id = ? AND archived_at IS NULL AND created_at < ?
		ORDER BY created_at ASC, seq ASC
		LIMIT ?`, entityID, toUnix(cutoff), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query aged events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// EntitiesWithAgedEvents lists entities owning unarchived events older than cutoff.
func (s *Store) EntitiesWithAgedEvents(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM memory_events
		WHERE archived_at IS NULL AND created_at < ?
		ORDER BY entity_id
		LIMIT ?`, toUnix(cutoff), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query aged entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]types.MemoryEvent, error) {
	events := []types.MemoryEvent{}
	for rows.Next() {
		var (
			ev                          types.MemoryEvent
			participants, deltas, evCtx string
			createdAt                   int64
			archivedAt                  sql.NullInt64
			episodeID                   sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.EntityID, &ev.EventType, &ev.Description,
			&participants, &deltas, &evCtx, &createdAt, &archivedAt, &episodeID); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &ev.Participants); err != nil {
			return nil, fmt.Errorf("sqlite: decode participants for %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(deltas), &ev.StatDeltas); err != nil {
			return nil, fmt.Errorf("sqlite: decode stat deltas for %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(evCtx), &ev.Context); err != nil {
			return nil, fmt.Errorf("sqlite: decode context for %s: %w", ev.ID, err)
		}
		ev.CreatedAt = fromUnix(createdAt)
		ev.ArchivedAt = timePtr(archivedAt)
		ev.EpisodeID = episodeID.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate events: %w", err)
	}
	return events, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilDeltas(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

func nonNilContext(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
