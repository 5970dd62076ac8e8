package postgres

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
		entry   types.CacheEntry
		lastHit sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT cache_key, payload, hit_count, last_hit_at, created_at, expires_at
		FROM response_cache WHERE cache_key = $1`, key).
		Scan(&entry.Key, &entry.Payload, &entry.HitCount, &lastHit, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get cache entry: %w", err)
	}
	entry.LastHitAt = timePtr(lastHit)
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	return &entry, nil
}

// PutCacheEntry upserts entry, preserving the existing hit statistics.
func (s *Store) PutCacheEntry(ctx context.Context, entry *types.CacheEntry) error {
	if entry == nil || entry.Key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_cache (cache_key, payload, hit_count, last_hit_at, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`,
		entry.Key, entry.Payload, entry.HitCount, nullableTime(entry.LastHitAt),
		entry.CreatedAt.UTC(), entry.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("postgres: put cache entry: %w", err)
	}
	return nil
}

// RecordCacheHit bumps the hit counter for key.
func (s *Store) RecordCacheHit(ctx context.Context, key string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE response_cache SET hit_count = hit_count + 1, last_hit_at = $1 WHERE cache_key = $2`,
		at.UTC(), key)
	if err != nil {
		return fmt.Errorf("postgres: record cache hit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCacheEntries removes rows whose key matches the glob pattern.
func (s *Store) DeleteCacheEntries(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, fmt.Errorf("%w: pattern is required", storage.ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM response_cache WHERE cache_key LIKE $1 ESCAPE '\'`, storage.GlobToLike(pattern))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete cache rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeExpiredCacheEntries deletes rows that expired before now.
func (s *Store) PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM response_cache WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres: purge cache entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: purge cache rows affected: %w", err)
	}
	return int(n), nil
}
