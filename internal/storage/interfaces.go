// Package storage provides composable storage interfaces for Lorekeeper.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. Every row set is
// addressable by entity ID alone; no interface requires a cross-entity join,
// so backends can be partitioned by entity later.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// EventStore is the durable narrative event log plus the per-entity
// working-memory window carved out of it.
type EventStore interface {
	// AppendEvent writes event to the log, marks it as part of the entity's
	// window, and trims the window to capacity by evicting the oldest window
	// events. Insert and trim happen in one transaction.
	AppendEvent(ctx context.Context, event *types.MemoryEvent, capacity int) error

	// RecentEvents returns up to limit window events for entityID, oldest first.
	RecentEvents(ctx context.Context, entityID int64, limit int) ([]types.MemoryEvent, error)

	// CountWindow returns the number of events currently in the entity's window.
	CountWindow(ctx context.Context, entityID int64) (int, error)

	// AgedEvents returns up to limit unarchived events created strictly before
	// cutoff, oldest first.
	AgedEvents(ctx context.Context, entityID int64, cutoff time.Time, limit int) ([]types.MemoryEvent, error)

	// EntitiesWithAgedEvents lists entity IDs that own at least one unarchived
	// event created before cutoff, ascending.
	EntitiesWithAgedEvents(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
}

// EpisodeStore persists compressed episodes.
type EpisodeStore interface {
	// ArchiveEpisode inserts episode and archives eventIDs in one transaction.
	// Only events that are still unarchived are claimed; if any of eventIDs was
	// already archived the transaction rolls back and ErrConflict is returned.
	ArchiveEpisode(ctx context.Context, episode *types.EpisodeSummary, eventIDs []string) error

	// ListEpisodes returns up to limit episodes for entityID, newest first.
	ListEpisodes(ctx context.Context, entityID int64, limit int) ([]types.EpisodeSummary, error)
}

// FactStore persists long-term facts, unique per (entity, content).
type FactStore interface {
	// UpsertFact creates the fact or, when it already exists, raises its
	// importance to max(existing, new) and refreshes last_accessed_at.
	UpsertFact(ctx context.Context, fact *types.LongTermFact) (*types.LongTermFact, error)

	// AdjustImportance adds delta to the fact's importance (0 when absent,
	// creating the fact) and clamps the result to [0,1].
	AdjustImportance(ctx context.Context, entityID int64, content string, delta float64, at time.Time) (*types.LongTermFact, error)

	// GetFact returns a fact by its natural key. Returns ErrNotFound if absent.
	GetFact(ctx context.Context, entityID int64, content string) (*types.LongTermFact, error)

	// TopFacts returns up to limit facts ordered by importance descending,
	// ties broken by most recently accessed, and stamps last_accessed_at.
	TopFacts(ctx context.Context, entityID int64, limit int, accessedAt time.Time) ([]types.LongTermFact, error)

	// SearchFacts returns up to limit keyword matches for query ranked by
	// relevance. Returns an empty slice (not an error) when nothing matches.
	SearchFacts(ctx context.Context, entityID int64, query string, limit int, accessedAt time.Time) ([]types.LongTermFact, error)
}

// FactVectorStore adds semantic search over fact embeddings.
type FactVectorStore interface {
	// StoreFactEmbedding stores or replaces the embedding for factID.
	StoreFactEmbedding(ctx context.Context, factID string, embedding []float32, model string) error

	// SearchFactsByVector returns up to limit facts of entityID ranked by
	// cosine similarity to query. Facts without embeddings are not returned.
	SearchFactsByVector(ctx context.Context, entityID int64, query []float32, limit int, accessedAt time.Time) ([]types.LongTermFact, error)
}

// WorldStore persists one WorldState per entity.
type WorldStore interface {
	// GetWorldState returns the entity's state, creating the default empty
	// state on first access.
	GetWorldState(ctx context.Context, entityID int64) (*types.WorldState, error)

	// UpdateWorldState merges patch into the entity's state inside a
	// read-modify-write transaction and returns the merged state.
	UpdateWorldState(ctx context.Context, entityID int64, patch types.WorldStatePatch, at time.Time) (*types.WorldState, error)
}

// ResponseCacheStore is the durable, authoritative tier of the L1 cache.
type ResponseCacheStore interface {
	// GetCacheEntry returns the row for key regardless of expiry.
	// Returns ErrNotFound if absent.
	GetCacheEntry(ctx context.Context, key string) (*types.CacheEntry, error)

	// PutCacheEntry upserts an entry. The hit count of an existing row is kept.
	PutCacheEntry(ctx context.Context, entry *types.CacheEntry) error

	// RecordCacheHit increments hit_count and sets last_hit_at.
	RecordCacheHit(ctx context.Context, key string, at time.Time) error

	// DeleteCacheEntries removes every row whose key matches the glob pattern
	// ('*' and '?' wildcards) and returns the number removed.
	DeleteCacheEntries(ctx context.Context, pattern string) (int, error)

	// PurgeExpiredCacheEntries removes rows whose expires_at is before now.
	PurgeExpiredCacheEntries(ctx context.Context, now time.Time) (int, error)
}

// Store is the full durable store consumed by the engine.
type Store interface {
	EventStore
	EpisodeStore
	FactStore
	WorldStore
	ResponseCacheStore

	// Close releases any resources held by the store.
	Close() error
}
