// Package postgres implements storage.Store on PostgreSQL (lib/pq), with
// optional pgvector acceleration for fact embeddings.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationPgvector adds a native vector column to fact_embeddings. It is only
// applied when the vector extension is available and is safe to re-run.
const MigrationPgvector = `
ALTER TABLE fact_embeddings ADD COLUMN IF NOT EXISTS embedding_vec vector;
`

var (
	_ storage.Store           = (*Store)(nil)
	_ storage.FactVectorStore = (*Store)(nil)
)

// Store implements storage.Store using PostgreSQL.
type Store struct {
	db                *sql.DB
	logger            *zap.Logger
	pgvectorAvailable bool
}

// NewStore connects to dsn, applies migrations, and probes for pgvector.
func NewStore(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	s := &Store{db: db, logger: logger}

	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrations: %w", err)
	}
	mgr, err := storage.NewMigrationManager(ctx, db, sub, storage.DialectPostgres)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to create migration manager: %w", err)
	}
	if err := mgr.Up(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: failed to run migrations: %w", err)
	}

	// pgvector is optional; semantic search falls back to in-process cosine.
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		logger.Warn("postgres: pgvector extension not available, vector search runs in-process", zap.Error(err))
	} else if _, err := db.ExecContext(ctx, MigrationPgvector); err != nil {
		logger.Warn("postgres: failed to apply pgvector migration", zap.Error(err))
	} else {
		s.pgvectorAvailable = true
	}

	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// PgvectorAvailable reports whether native vector search is enabled.
func (s *Store) PgvectorAvailable() bool {
	return s.pgvectorAvailable
}

// lockEntity serialises writers of one entity for the rest of tx.
func lockEntity(ctx context.Context, tx *sql.Tx, entityID int64) error {
	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", entityID); err != nil {
		return fmt.Errorf("postgres: advisory lock for entity %d: %w", entityID, err)
	}
	return nil
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{Valid: false}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
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
