package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// GetCacheEntry returns the cache row for key, expired or not.
func (s *Store) GetCacheEntry(ctx context.Context, key string) (*types.CacheEntry, error) {
	var (
		entry                types.CacheEntry
		lastHit              sql.NullInt64
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, payload, hit_count, last_hit_at, created_at, expires_at
		FROM response_cache WHERE cache_key = ?`, key).
		Scan(&entry.Key, &entry.Payload, &entry.HitCount, &lastHit, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get cache entry: %w", err)
	}
	entry.LastHitAt = timePtr(lastHit)
	entry.CreatedAt = fromUnix(createdAt)
	entry.ExpiresAt = fromUnix(expiresAt)
	return &entry, nil
}

// PutCacheEntry upserts entry, preserving the existing hit statistics.
func (s *Store) PutCacheEntry(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, payload, hit_count, last_hit_at, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		entry.Key, entry.Payload, entry.HitCount, nullableUnix(entry.LastHitAt),
		toUnix(entry.CreatedAt), toUnix(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("sqlite: put cache entry: %w", err)
	}
	return nil
}

// RecordCacheHit bumps the hit counter for key.
func (s *Store) RecordCacheHit(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE response_cache SET hit_count = hit_count + 1, last_hit_at = ? WHERE cache_key = ?`,
		toUnix(at), key)
	if err != nil {
		return fmt.Errorf("sqlite: record cache hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCacheEntries removes rows matching a glob. SQLite's GLOB operator
// shares the '*' and '?' wildcards and is case-sensitive; brackets are
// escaped so they stay literal.
func (s *Store) DeleteCacheEntries(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, fmt.Errorf("%w: pattern is required", storage.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE cache_key GLOB ?`, storage.GlobToSQLite(pattern))
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete cache rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeExpiredCacheEntries deletes rows that expired before now.
func (s *Store) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at < ?`, toUnix(now))
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge cache rows affected: %w", err)
	}
	return int(n), nil
}
