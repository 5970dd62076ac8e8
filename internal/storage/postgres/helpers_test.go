// This file contains test helpers only available during testing.
package postgres

import (
	"context"
	"fmt"
)

// TruncateForTest removes all rows from every narrative-memory table.
// It is defined in the postgres package (not the _test package) so it has
// access to the unexported db field, and exported so that the postgres_test
// package can call it.
func (s *Store) TruncateForTest(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `TRUNCATE TABLE memory_events, episode_summaries, fact_embeddings,
		long_term_facts, world_states, response_cache RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("postgres: failed to truncate tables: %w", err)
	}
	return nil
}
