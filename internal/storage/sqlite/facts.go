package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const factColumns = `f.seq, f.id, f.entity_id, f.content, f.importance, f.created_at, f.last_accessed_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type factRow struct {
	seq  int64
	fact types.LongTermFact
}

// UpsertFact inserts fact or keeps the higher of the two importances.
func (s *Store) UpsertFact(ctx context.Context, fact *types.LongTermFact) (*types.LongTermFact, error) {
	if fact == nil || fact.EntityID <= 0 || strings.TrimSpace(fact.Content) == "" {
		return nil, fmt.Errorf("%w: fact requires positive entity id and content", storage.ErrInvalidInput)
	}
	at := fact.LastAccessedAt
	if at.IsZero() {
		at = time.Now()
	}
	importance := types.ClampImportance(fact.Importance)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin upsert fact: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getFact(ctx, tx, fact.EntityID, fact.Content)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		created := &types.LongTermFact{
			ID:             fact.ID,
			EntityID:       fact.EntityID,
			Content:        fact.Content,
			Importance:     importance,
			CreatedAt:      at,
			LastAccessedAt: at,
		}
		if err := insertFact(ctx, tx, created); err != nil {
			return nil, err
		}
		existing = created
	case err != nil:
		return nil, err
	default:
		if importance > existing.Importance {
			existing.Importance = importance
		}
		existing.LastAccessedAt = at
		if _, err := tx.ExecContext(ctx,
			`UPDATE long_term_facts SET importance = ?, last_accessed_at = ? WHERE id = ?`,
			existing.Importance, toUnix(at), existing.ID); err != nil {
			return nil, fmt.Errorf("sqlite: update fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit upsert fact: %w", err)
	}
	return existing, nil
}

// AdjustImportance applies a clamped delta, creating the fact at 0 when absent.
func (s *Store) AdjustImportance(ctx context.Context, entityID int64, content string, delta float64, at time.Time) (*types.LongTermFact, error) {
	if entityID <= 0 || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: fact requires positive entity id and content", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin adjust importance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	fact, err := getFact(ctx, tx, entityID, content)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fact = &types.LongTermFact{
			EntityID:       entityID,
			Content:        content,
			Importance:     types.ReinforceImportance(0, delta),
			CreatedAt:      at,
			LastAccessedAt: at,
		}
		if err := insertFact(ctx, tx, fact); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		fact.Importance = types.ReinforceImportance(fact.Importance, delta)
		fact.LastAccessedAt = at
		if _, err := tx.ExecContext(ctx,
			`UPDATE long_term_facts SET importance = ?, last_accessed_at = ? WHERE id = ?`,
			fact.Importance, toUnix(at), fact.ID); err != nil {
			return nil, fmt.Errorf("sqlite: adjust importance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit adjust importance: %w", err)
	}
	return fact, nil
}

// GetFact returns the fact identified by (entityID, content).
func (s *Store) GetFact(ctx context.Context, entityID int64, content string) (*types.LongTermFact, error) {
	return getFact(ctx, s.db, entityID, content)
}

// TopFacts returns the most important facts and marks them accessed.
func (s *Store) TopFacts(ctx context.Context, entityID int64, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin top facts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+factColumns+` FROM long_term_facts f
		WHERE f.entity_id = ?
		ORDER BY f.importance DESC, f.last_accessed_at DESC, f.seq DESC
		LIMIT ?`, entityID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query top facts: %w", err)
	}
	found, err := scanFacts(rows, false)
	if err != nil {
		return nil, err
	}

	facts, err := touchFacts(ctx, tx, found, accessedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit top facts: %w", err)
	}
	return facts, nil
}

// SearchFacts ranks keyword matches with FTS5 bm25, then by importance.
func (s *Store) SearchFacts(ctx context.Context, entityID int64, query string, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	terms := storage.SearchTerms(query)
	if len(terms) == 0 {
		return []types.LongTermFact{}, nil
	}
	match := make([]string, len(terms))
	for i, t := range terms {
		match[i] = `"` + t + `"*`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin search facts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+factColumns+`, -long_term_facts_fts.rank
		FROM long_term_facts_fts
		JOIN long_term_facts f ON f.seq = long_term_facts_fts.rowid
		WHERE long_term_facts_fts MATCH ? AND f.entity_id = ?
		ORDER BY long_term_facts_fts.rank, f.importance DESC, f.seq DESC
		LIMIT ?`, strings.Join(match, " OR "), entityID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sqlite: search facts %q: %w", query, err)
	}
	found, err := scanFacts(rows, true)
	if err != nil {
		return nil, err
	}

	facts, err := touchFacts(ctx, tx, found, accessedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit search facts: %w", err)
	}
	return facts, nil
}

// StoreFactEmbedding stores or replaces the embedding for factID.
func (s *Store) StoreFactEmbedding(ctx context.Context, factID string, embedding []float32, model string) error {
	if factID == "" || len(embedding) == 0 {
		return fmt.Errorf("%w: fact id and embedding are required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fact_embeddings (fact_id, embedding, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fact_id) DO UPDATE SET
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			model = excluded.model,
			created_at = excluded.created_at`,
		factID, storage.EncodeEmbedding(embedding), len(embedding), model, toUnix(time.Now()))
	if err != nil {
		return fmt.Errorf("sqlite: store fact embedding: %w", err)
	}
	return nil
}

// SearchFactsByVector computes cosine similarity in Go; SQLite has no vector
// index, and per-entity fact sets are small.
func (s *Store) SearchFactsByVector(ctx context.Context, entityID int64, query []float32, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 || len(query) == 0 {
		return nil, fmt.Errorf("%w: entity id and query vector are required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin vector search: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+factColumns+`, e.embedding
		FROM long_term_facts f
		JOIN fact_embeddings e ON e.fact_id = f.id
		WHERE f.entity_id = ? AND e.dimension = ?`, entityID, len(query))
	if err != nil {
		return nil, fmt.Errorf("sqlite: query fact embeddings: %w", err)
	}

	var scored []factRow
	for rows.Next() {
		var (
			r                     factRow
			createdAt, accessedNs int64
			blob                  []byte
		)
		if err := rows.Scan(&r.seq, &r.fact.ID, &r.fact.EntityID, &r.fact.Content, &r.fact.Importance,
			&createdAt, &accessedNs, &blob); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: scan fact embedding: %w", err)
		}
		vec, err := storage.DecodeEmbedding(blob)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("sqlite: decode embedding for %s: %w", r.fact.ID, err)
		}
		r.fact.CreatedAt = fromUnix(createdAt)
		r.fact.LastAccessedAt = fromUnix(accessedNs)
		r.fact.Score = storage.CosineSimilarity(query, vec)
		scored = append(scored, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("sqlite: iterate fact embeddings: %w", err)
	}
	_ = rows.Close()

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.fact.Score != b.fact.Score {
			return a.fact.Score > b.fact.Score
		}
		if a.fact.Importance != b.fact.Importance {
			return a.fact.Importance > b.fact.Importance
		}
		return a.seq > b.seq
	})
	if n := storage.NormalizeLimit(limit); len(scored) > n {
		scored = scored[:n]
	}

	facts, err := touchFacts(ctx, tx, scored, accessedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit vector search: %w", err)
	}
	return facts, nil
}

func getFact(ctx context.Context, q queryer, entityID int64, content string) (*types.LongTermFact, error) {
	var (
		seq                   int64
		fact                  types.LongTermFact
		createdAt, accessedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT `+factColumns+` FROM long_term_facts f
		WHERE f.entity_id = ? AND f.content = ?`, entityID, content).
		Scan(&seq, &fact.ID, &fact.EntityID, &fact.Content, &fact.Importance, &createdAt, &accessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get fact: %w", err)
	}
	fact.CreatedAt = fromUnix(createdAt)
	fact.LastAccessedAt = fromUnix(accessedAt)
	return &fact, nil
}

func insertFact(ctx context.Context, q queryer, fact *types.LongTermFact) error {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO long_term_facts (id, entity_id, content, importance, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fact.ID, fact.EntityID, fact.Content, fact.Importance, toUnix(fact.CreatedAt), toUnix(fact.LastAccessedAt))
	if err != nil {
		return fmt.Errorf("sqlite: insert fact: %w", err)
	}
	return nil
}

// scanFacts reads fact rows; withScore expects a trailing score column.
// It always closes rows so the caller's transaction can reuse the connection.
func scanFacts(rows *sql.Rows, withScore bool) ([]factRow, error) {
	defer func() { _ = rows.Close() }()

	var out []factRow
	for rows.Next() {
		var (
			r                     factRow
			createdAt, accessedAt int64
		)
		dest := []interface{}{&r.seq, &r.fact.ID, &r.fact.EntityID, &r.fact.Content,
			&r.fact.Importance, &createdAt, &accessedAt}
		if withScore {
			dest = append(dest, &r.fact.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlite: scan fact: %w", err)
		}
		r.fact.CreatedAt = fromUnix(createdAt)
		r.fact.LastAccessedAt = fromUnix(accessedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate facts: %w", err)
	}
	return out, nil
}

// touchFacts stamps last_accessed_at on rows and returns them in order.
func touchFacts(ctx context.Context, q queryer, rows []factRow, at time.Time) ([]types.LongTermFact, error) {
	facts := make([]types.LongTermFact, 0, len(rows))
	if len(rows) == 0 {
		return facts, nil
	}
	args := make([]interface{}, 0, len(rows)+1)
	args = append(args, toUnix(at))
	for _, r := range rows {
		args = append(args, r.seq)
		f := r.fact
		f.LastAccessedAt = at.UTC()
		facts = append(facts, f)
	}
	if _, err := q.ExecContext(ctx,
		`UPDATE long_term_facts SET last_accessed_at = ? WHERE seq IN (`+placeholders(len(rows))+`)`,
		args...); err != nil {
		return nil, fmt.Errorf("sqlite: touch facts: %w", err)
	}
	return facts, nil
}
