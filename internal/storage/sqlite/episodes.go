package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

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
		return fmt.Errorf("sqlite: marshal participants: %w", err)
	}
	deltas, err := marshalJSON(nonNilDeltas(episode.TotalStatDeltas))
	if err != nil {
		return fmt.Errorf("sqlite: marshal stat deltas: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO episode_summaries (id, entity_id, summary_text, event_count, participants,
			total_stat_deltas, period_start, period_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.ID, episode.EntityID, episode.SummaryText, episode.EventCount, participants,
		deltas, toUnix(episode.PeriodStart), toUnix(episode.PeriodEnd), toUnix(episode.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert episode: %w", err)
	}

	args := make([]interface{}, 0, len(eventIDs)+3)
	args = append(args, toUnix(episode.CreatedAt), episode.ID, episode.EntityID)
	for _, id := range eventIDs {
		args = append(args, id)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE memory_events SET archived_at = ?, episode_id = ?, in_window = 0
		WHERE entity_id = ? AND archived_at IS NULL AND id IN (`+placeholders(len(eventIDs))+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("sqlite: archive events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: archive rows affected: %w", err)
	}
	if int(n) != len(eventIDs) {
		return fmt.Errorf("%w: claimed %d of %d events for episode %s", storage.ErrConflict, n, len(eventIDs), episode.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit archive: %w", err)
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
		WHERE entity_id = ?
		ORDER BY period_end DESC, seq DESC
		LIMIT ?`, entityID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query episodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	episodes := []types.EpisodeSummary{}
	for rows.Next() {
		var (
			ep                    types.EpisodeSummary
			participants, deltas  string
			start, end, createdAt int64
		)
		if err := rows.Scan(&ep.ID, &ep.EntityID, &ep.SummaryText, &ep.EventCount,
			&participants, &deltas, &start, &end, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan episode: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &ep.ParticipantsInvolved); err != nil {
			return nil, fmt.Errorf("sqlite: decode participants for %s: %w", ep.ID, err)
		}
		if err := json.Unmarshal([]byte(deltas), &ep.TotalStatDeltas); err != nil {
			return nil, fmt.Errorf("sqlite: decode stat deltas for %s: %w", ep.ID, err)
		}
		ep.PeriodStart = fromUnix(start)
		ep.PeriodEnd = fromUnix(end)
		ep.CreatedAt = fromUnix(createdAt)
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate episodes: %w", err)
	}
	return episodes, nil
}
