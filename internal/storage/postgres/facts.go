package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

const factColumns = `f.seq, f.id, f.entity_id, f.content, f.importance, f.created_at, f.last_accessed_at`

type factRow struct {
	seq  int64
	fact types.LongTermFact
}

// UpsertFact inserts fact or raises its importance to the larger value in a
// single statement.
func (s *Store) UpsertFact(ctx context.Context, fact *types.LongTermFact) (*types.LongTermFact, error) {
	if fact == nil || fact.EntityID <= 0 || strings.TrimSpace(fact.Content) == "" {
		return nil, fmt.Errorf("%w: fact requires positive entity id and content", storage.ErrInvalidInput)
	}
	at := fact.LastAccessedAt
	if at.IsZero() {
		at = time.Now()
	}
	id := fact.ID
	if id == "" {
		id = uuid.NewString()
	}

	var out types.LongTermFact
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO long_term_facts AS f (id, entity_id, content, importance, created_at, last_accessed_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (entity_id, content) DO UPDATE SET
			importance = GREATEST(f.importance, EXCLUDED.importance),
			last_accessed_at = EXCLUDED.last_accessed_at
		RETURNING f.id, f.entity_id, f.content, f.importance, f.created_at, f.last_accessed_at`,
		id, fact.EntityID, fact.Content, types.ClampImportance(fact.Importance), at.UTC()).
		Scan(&out.ID, &out.EntityID, &out.Content, &out.Importance, &out.CreatedAt, &out.LastAccessedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: upsert fact: %w", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.LastAccessedAt = out.LastAccessedAt.UTC()
	return &out, nil
}

// AdjustImportance locks the fact row, applies a clamped delta and writes it
// back, creating the fact at 0 when absent.
func (s *Store) AdjustImportance(ctx context.Context, entityID int64, content string, delta float64, at time.Time) (*types.LongTermFact, error) {
	if entityID <= 0 || strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: fact requires positive entity id and content", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin adjust importance: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO long_term_facts (id, entity_id, content, importance, created_at, last_accessed_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (entity_id, content) DO NOTHING`,
		uuid.NewString(), entityID, content, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: ensure fact: %w", err)
	}

	fact, err := getFact(ctx, tx, entityID, content, true)
	if err != nil {
		return nil, err
	}
	fact.Importance = types.ReinforceImportance(fact.Importance, delta)
	fact.LastAccessedAt = at.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE long_term_facts SET importance = $1, last_accessed_at = $2 WHERE id = $3`,
		fact.Importance, fact.LastAccessedAt, fact.ID); err != nil {
		return nil, fmt.Errorf("postgres: adjust importance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit adjust importance: %w", err)
	}
	return fact, nil
}

// GetFact returns the fact identified by (entityID, content).
func (s *Store) GetFact(ctx context.Context, entityID int64, content string) (*types.LongTermFact, error) {
	return getFact(ctx, s.db, entityID, content, false)
}

// TopFacts returns the most important facts and marks them accessed.
func (s *Store) TopFacts(ctx context.Context, entityID int64, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+` FROM long_term_facts f
		WHERE f.entity_id = $1
		ORDER BY f.importance DESC, f.last_accessed_at DESC, f.seq DESC
		LIMIT $2`, entityID, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: query top facts: %w", err)
	}
	found, err := scanFacts(rows, false)
	if err != nil {
		return nil, err
	}
	return s.touchFacts(ctx, found, accessedAt)
}

// SearchFacts ranks keyword matches with ts_rank, then by importance.
func (s *Store) SearchFacts(ctx context.Context, entityID int64, query string, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 {
		return nil, fmt.Errorf("%w: entity id must be positive", storage.ErrInvalidInput)
	}
	terms := storage.SearchTerms(query)
	if len(terms) == 0 {
		return []types.LongTermFact{}, nil
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t + ":*"
	}
	tsquery := strings.Join(parts, " | ")

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+`, ts_rank(f.content_tsv, to_tsquery('simple', $2)) AS score
		FROM long_term_facts f
		WHERE f.entity_id = $1 AND f.content_tsv @@ to_tsquery('simple', $2)
		ORDER BY score DESC, f.importance DESC, f.seq DESC
		LIMIT $3`, entityID, tsquery, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("postgres: search facts %q: %w", query, err)
	}
	found, err := scanFacts(rows, true)
	if err != nil {
		return nil, err
	}
	return s.touchFacts(ctx, found, accessedAt)
}

// StoreFactEmbedding stores the embedding as bytes and, when pgvector is
// available, as a native vector.
func (s *Store) StoreFactEmbedding(ctx context.Context, factID string, embedding []float32, model string) error {
	if factID == "" || len(embedding) == 0 {
		return fmt.Errorf("%w: fact id and embedding are required", storage.ErrInvalidInput)
	}

	if s.pgvectorAvailable {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO fact_embeddings (fact_id, embedding, dimension, model, created_at, embedding_vec)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (fact_id) DO UPDATE SET
				embedding = EXCLUDED.embedding,
				dimension = EXCLUDED.dimension,
				model = EXCLUDED.model,
				created_at = EXCLUDED.created_at,
				embedding_vec = EXCLUDED.embedding_vec`,
			factID, storage.EncodeEmbedding(embedding), len(embedding), model, time.Now().UTC(),
			pgvector.NewVector(embedding))
		if err != nil {
			return fmt.Errorf("postgres: store fact embedding: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fact_embeddings (fact_id, embedding, dimension, model, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fact_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			model = EXCLUDED.model,
			created_at = EXCLUDED.created_at`,
		factID, storage.EncodeEmbedding(embedding), len(embedding), model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: store fact embedding: %w", err)
	}
	return nil
}

// SearchFactsByVector uses pgvector cosine distance when available and
// computes cosine similarity in Go otherwise.
func (s *Store) SearchFactsByVector(ctx context.Context, entityID int64, query []float32, limit int, accessedAt time.Time) ([]types.LongTermFact, error) {
	if entityID <= 0 || len(query) == 0 {
		return nil, fmt.Errorf("%w: entity id and query vector are required", storage.ErrInvalidInput)
	}
	limit = storage.NormalizeLimit(limit)

	if s.pgvectorAvailable {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+factColumns+`, 1 - (e.embedding_vec <=> $2::vector) AS score
			FROM long_term_facts f
			JOIN fact_embeddings e ON e.fact_id = f.id
			WHERE f.entity_id = $1 AND e.dimension = $3 AND e.embedding_vec IS NOT NULL
			ORDER BY e.embedding_vec <=> $2::vector, f.importance DESC, f.seq DESC
			LIMIT $4`, entityID, pgvector.NewVector(query), len(query), limit)
		if err != nil {
			return nil, fmt.Errorf("postgres: vector search: %w", err)
		}
		found, err := scanFacts(rows, true)
		if err != nil {
			return nil, err
		}
		return s.touchFacts(ctx, found, accessedAt)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+factColumns+`, e.embedding
		FROM long_term_facts f
		JOIN fact_embeddings e ON e.fact_id = f.id
		WHERE f.entity_id = $1 AND e.dimension = $2`, entityID, len(query))
	if err != nil {
		return nil, fmt.Errorf("postgres: query fact embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scored []factRow
	for rows.Next() {
		var (
			r    factRow
			blob []byte
		)
		if err := rows.Scan(&r.seq, &r.fact.ID, &r.fact.EntityID, &r.fact.Content, &r.fact.Importance,
			&r.fact.CreatedAt, &r.fact.LastAccessedAt, &blob); err != nil {
			return nil, fmt.Errorf("postgres: scan fact embedding: %w", err)
		}
		vec, err := storage.DecodeEmbedding(blob)
		if err != nil {
			return nil, fmt.Errorf("postgres: decode embedding for %s: %w", r.fact.ID, err)
		}
		r.fact.Score = storage.CosineSimilarity(query, vec)
		scored = append(scored, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate fact embeddings: %w", err)
	}

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
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return s.touchFacts(ctx, scored, accessedAt)
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getFact(ctx context.Context, q rowQueryer, entityID int64, content string, forUpdate bool) (*types.LongTermFact, error) {
	query := `SELECT ` + factColumns + ` FROM long_term_facts f WHERE f.entity_id = $1 AND f.content = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		seq  int64
		fact types.LongTermFact
	)
	err := q.QueryRowContext(ctx, query, entityID, content).
		Scan(&seq, &fact.ID, &fact.EntityID, &fact.Content, &fact.Importance, &fact.CreatedAt, &fact.LastAccessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get fact: %w", err)
	}
	fact.CreatedAt = fact.CreatedAt.UTC()
	fact.LastAccessedAt = fact.LastAccessedAt.UTC()
	return &fact, nil
}

func scanFacts(rows *sql.Rows, withScore bool) ([]factRow, error) {
	defer func() { _ = rows.Close() }()

	var out []factRow
	for rows.Next() {
		var r factRow
		dest := []interface{}{&r.seq, &r.fact.ID, &r.fact.EntityID, &r.fact.Content,
			&r.fact.Importance, &r.fact.CreatedAt, &r.fact.LastAccessedAt}
		if withScore {
			dest = append(dest, &r.fact.Score)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("postgres: scan fact: %w", err)
		}
		r.fact.CreatedAt = r.fact.CreatedAt.UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate facts: %w", err)
	}
	return out, nil
}

func (s *Store) touchFacts(ctx context.Context, rows []factRow, at time.Time) ([]types.LongTermFact, error) {
	facts := make([]types.LongTermFact, 0, len(rows))
	if len(rows) == 0 {
		return facts, nil
	}
	seqs := make([]int64, 0, len(rows))
	for _, r := range rows {
		seqs = append(seqs, r.seq)
		f := r.fact
		f.LastAccessedAt = at.UTC()
		facts = append(facts, f)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE long_term_facts SET last_accessed_at = $1 WHERE seq = ANY($2)`,
		at.UTC(), pq.Array(seqs)); err != nil {
		return nil, fmt.Errorf("postgres: touch facts: %w", err)
	}
	return facts, nil
}
