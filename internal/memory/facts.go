package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// DefaultFactLimit is the number of facts returned when no limit is given.
const DefaultFactLimit = 10

// LongTermMemoryConfig configures a LongTermMemory.
type LongTermMemoryConfig struct {
	// Vectors and Embedder together enable semantic search. Either may be nil.
	Vectors  storage.FactVectorStore
	Embedder Embedder

	Now    func() time.Time
	Logger *zap.Logger
}

// LongTermMemory stores importance-ranked facts per entity. Importance only
// changes through Remember (keeps the larger value) and Reinforce (adds a
// delta, clamped to [0, 1]); it never decays here.
type LongTermMemory struct {
	store    storage.FactStore
	vectors  storage.FactVectorStore
	embedder Embedder
	now      func() time.Time
	logger   *zap.Logger
}

// NewLongTermMemory creates a LongTermMemory over store.
func NewLongTermMemory(store storage.FactStore, cfg LongTermMemoryConfig) *LongTermMemory {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	m := &LongTermMemory{
		store:  store,
		now:    nowFunc(cfg.Now),
		logger: cfg.Logger,
	}
	if cfg.Vectors != nil && cfg.Embedder != nil {
		m.vectors = cfg.Vectors
		m.embedder = cfg.Embedder
	}
	return m
}

// Remember upserts the fact (entityID, content). An existing fact keeps the
// larger of its current and the given importance; use Reinforce to add.
func (m *LongTermMemory) Remember(ctx context.Context, entityID int64, content string, importance float64) (*types.LongTermFact, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: fact content is required", storage.ErrInvalidInput)
	}

	now := m.now()
	fact, err := m.store.UpsertFact(ctx, &types.LongTermFact{
		EntityID:       entityID,
		Content:        content,
		Importance:     types.ClampImportance(importance),
		CreatedAt:      now,
		LastAccessedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("remember fact for entity %d: %w", entityID, err)
	}

	m.embed(ctx, fact)
	return fact, nil
}

// embed stores the fact's embedding. Failures only cost semantic recall.
func (m *LongTermMemory) embed(ctx context.Context, fact *types.LongTermFact) {
	if m.embedder == nil {
		return
	}
	vec, err := m.embedder.Embed(ctx, fact.Content)
	if err == nil {
		err = m.vectors.StoreFactEmbedding(ctx, fact.ID, vec, m.embedder.GetModel())
	}
	if err != nil {
		m.logger.Warn("fact embedding skipped",
			zap.Int64("entity_id", fact.EntityID),
			zap.String("fact_id", fact.ID),
			zap.Error(err))
	}
}

// Reinforce adds delta to the fact's importance (0 when the fact does not
// exist yet) and returns the clamped result.
func (m *LongTermMemory) Reinforce(ctx context.Context, entityID int64, content string, delta float64) (float64, error) {
	if err := validateEntity(entityID); err != nil {
		return 0, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return 0, fmt.Errorf("%w: fact content is required", storage.ErrInvalidInput)
	}
	fact, err := m.store.AdjustImportance(ctx, entityID, content, delta, m.now())
	if err != nil {
		return 0, fmt.Errorf("reinforce fact for entity %d: %w", entityID, err)
	}
	return fact.Importance, nil
}

// Get returns a single fact without touching its access time.
func (m *LongTermMemory) Get(ctx context.Context, entityID int64, content string) (*types.LongTermFact, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	return m.store.GetFact(ctx, entityID, strings.TrimSpace(content))
}

// Top returns the most important facts, most recently accessed first among
// equals, and stamps them as accessed.
func (m *LongTermMemory) Top(ctx context.Context, entityID int64, limit int) ([]types.LongTermFact, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultFactLimit
	}
	facts, err := m.store.TopFacts(ctx, entityID, limit, m.now())
	if err != nil {
		return nil, fmt.Errorf("top facts for entity %d: %w", entityID, err)
	}
	return nonNilFacts(facts), nil
}

// Search returns the facts best matching query. With an embedder configured
// it ranks by vector similarity and falls back to keyword search when the
// embedder fails or no fact has an embedding yet. No match is an empty
// slice, not an error.
func (m *LongTermMemory) Search(ctx context.Context, entityID int64, query string, limit int) ([]types.LongTermFact, error) {
	if err := validateEntity(entityID); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.LongTermFact{}, nil
	}
	if limit <= 0 {
		limit = DefaultFactLimit
	}

	if facts, ok := m.semanticSearch(ctx, entityID, query, limit); ok {
		return facts, nil
	}

	facts, err := m.store.SearchFacts(ctx, entityID, query, limit, m.now())
	if err != nil {
		return nil, fmt.Errorf("search facts for entity %d: %w", entityID, err)
	}
	return nonNilFacts(facts), nil
}

func (m *LongTermMemory) semanticSearch(ctx context.Context, entityID int64, query string, limit int) ([]types.LongTermFact, bool) {
	if m.embedder == nil {
		return nil, false
	}
	vec, err := m.embedder.Embed(ctx, query)
	if err != nil {
		m.logger.Warn("query embedding failed; using keyword search", zap.Int64("entity_id", entityID), zap.Error(err))
		return nil, false
	}
	facts, err := m.vectors.SearchFactsByVector(ctx, entityID, vec, limit, m.now())
	if err != nil {
		m.logger.Warn("vector search failed; using keyword search", zap.Int64("entity_id", entityID), zap.Error(err))
		return nil, false
	}
	if len(facts) == 0 {
		return nil, false
	}
	return facts, true
}

func nonNilFacts(facts []types.LongTermFact) []types.LongTermFact {
	if facts == nil {
		return []types.LongTermFact{}
	}
	return facts
}
