package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const eventColumns = `id, entity_id, event_type, description, participants, stat_deltas,
	context, created_at, archived_at, episode_id`

// AppendEvent inserts event and trims the window under an entity advisory lock.
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
		return fmt.Errorf("postgres: marshal participants: %w", err)
	}
	deltas, err := marshalJSON(nonNilDeltas(event.StatDeltas))
	if err != nil {
		return fmt.Errorf("postgres: marshal stat deltas: %w", err)
	}
	evCtx, err := marshalJSON(nonNilContext(event.Context))
	if err != nil {
		return fmt.Errorf("postgres: marshal context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockEntity(ctx, tx, event.EntityID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memory_events (id, entity_id, event_type, description, participants,
			stat_deltas, context, created_at, in_window)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)`,
		event.ID, event.EntityID, event.EventType, event.Description, participants,
		deltas, evCtx, event.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memory_events SET in_window = FALSE
		WHERE entity_id = $1 AND in_window AND seq NOT IN (
			SELECT seq FROM memory_events
			WHERE entity_id = $1 AND in_window
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		)`, event.EntityID, capacity)
	if err != nil {
		return fmt.Errorf("postgres: trim window: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit append: %w", err)
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
		SELECT * FROM (
			SELECT `+eventColumns+`, seq FROM memory_events
			WHERE entity_id = $1 AND in_window
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent ORDER BY created_at ASC, seq ASC`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows, true)
}

// CountWindow returns the number of events in the entity's window.
func (s *Store) CountWindow(ctx context.Context, entityID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_events WHERE entity_id = $1 AND in_window`, entityID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count window: %w", err)
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
		WHERE entity_id = $1 AND archived_at IS NULL AND created_at < $2
		ORDER BY created_at ASC, seq ASC
		LIMIT $3`, entityID, cutoff.UTC(), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query aged events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows, false)
}

// EntitiesWithAgedEvents lists entities owning unarchived events older than cutoff.
func (s *Store) EntitiesWithAgedEvents(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id FROM memory_events
		WHERE archived_at IS NULL AND created_at < $1
		ORDER BY entity_id
		LIMIT $2`, cutoff.UTC(), storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query aged entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchiveEpisode stores episode and claims eventIDs for it atomically.
func (s *Store) ArchiveEpisode(ctx context.Context, episode *types.EpisodeSummary, eventIDs []string) error {
	if episode == nil || episode.ID == "" || episode.EntityID <= 0 {
		return fmt.Errorf("%w: episode id and positive entity id are required", storage.ErrInvalidInput)
	}
	if len(eventIDs) == 0 {
		return fmt.Errorf("%w: episode must archive at least one event", storage.ErrInvalidInput)
	}

	participants, err := marshalJSON(nonNilStrings(episode.ParticipantsInvolved))
	if err != nil {
		return fmt.Errorf("postgres: marshal participants: %w", err)
	}
	deltas, err := marshalJSON(nonNilDeltas(episode.TotalStatDeltas))
	if err != nil {
		return fmt.Errorf("postgres: marshal stat deltas: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockEntity(ctx, tx, episode.EntityID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episode_summaries (id, entity_id, summary_text, event_count, participants,
			total_stat_deltas, period_start, period_end, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		episode.ID, episode.EntityID, episode.SummaryText, episode.EventCount, participants,
		deltas, episode.PeriodStart.UTC(), episode.PeriodEnd.UTC(), episode.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: insert episode: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE memory_events SET archived_at = $1, episode_id = $2, in_window = FALSE
		WHERE entity_id = $3 AND archived_at IS NULL AND id = ANY($4)`,
		episode.CreatedAt.UTC(), episode.ID, episode.EntityID, pq.Array(eventIDs))
	if err != nil {
		return fmt.Errorf("postgres: archive events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: archive rows affected: %w", err)
	}
	if int(n) != len(eventIDs) {
		return fmt.Errorf("%w: claimed %d of %d events for episode %s", storage.ErrConflict, n, len(eventIDs), episode.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit archive: %w", err)
	}
	return nil
}

// ListEpisodes returns the entity's episodes, newest first.
func (s *Store) ListEpisodes(ctx context.Context, entityID int64, limit int) ([]types.EpisodeSummary, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, summary_text, event_count, participants, total_stat_deltas,
			period_start, period_end, created_at
		FROM episode_summaries
		WHERE entity_id = $1
		ORDER BY period_end DESC, seq DESC
		LIMIT $2`, entityID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	episodes := []types.EpisodeSummary{}
	for rows.Next() {
		var (
			ep                   types.EpisodeSummary
			participants, deltas []byte
		)
		if err := rows.Scan(&ep.ID, &ep.EntityID, &ep.SummaryText, &ep.EventCount,
			&participants, &deltas, &ep.PeriodStart, &ep.PeriodEnd, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan episode: %w", err)
		}
		if err := json.Unmarshal(participants, &ep.ParticipantsInvolved); err != nil {
			return nil, fmt.Errorf("postgres: decode participants for %s: %w", ep.ID, err)
		}
		if err := json.Unmarshal(deltas, &ep.TotalStatDeltas); err != nil {
			return nil, fmt.Errorf("postgres: decode stat deltas for %s: %w", ep.ID, err)
		}
		ep.PeriodStart = ep.PeriodStart.UTC()
		ep.PeriodEnd = ep.PeriodEnd.UTC()
		ep.CreatedAt = ep.CreatedAt.UTC()
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate episodes: %w", err)
	}
	return episodes, nil
}

// scanEvents reads event rows; withSeq expects a trailing seq column.
func scanEvents(rows *sql.Rows, withSeq bool) ([]types.MemoryEvent, error) {
	events := []types.MemoryEvent{}
	for rows.Next() {
		var (
			ev                          types.MemoryEvent
			participants, deltas, evCtx []byte
			archivedAt                  sql.NullTime
			episodeID                   sql.NullString
			seq                         int64
		)
		dest := []interface{}{&ev.ID, &ev.EntityID, &ev.EventType, &ev.Description,
			&participants, &deltas, &evCtx, &ev.CreatedAt, &archivedAt, &episodeID}
		if withSeq {
			dest = append(dest, &seq)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if err := json.Unmarshal(participants, &ev.Participants); err != nil {
			return nil, fmt.Errorf("postgres: decode participants for %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal(deltas, &ev.StatDeltas); err != nil {
			return nil, fmt.Errorf("postgres: decode stat deltas for %s: %w", ev.ID, err)
		}
		if err := json.Unmarshal(evCtx, &ev.Context); err != nil {
			return nil, fmt.Errorf("postgres: decode context for %s: %w", ev.ID, err)
		}
		ev.CreatedAt = ev.CreatedAt.UTC()
		ev.ArchivedAt = timePtr(archivedAt)
		ev.EpisodeID = episodeID.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate events: %w", err)
	}
	return events, nil
}
