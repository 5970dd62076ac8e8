package engine

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/cache"
	"github.com/scrypster/lorekeeper/internal/config"
	"github.com/scrypster/lorekeeper/internal/llm"
	"github.com/scrypster/lorekeeper/internal/logging"
	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/internal/storage/postgres"
	"github.com/scrypster/lorekeeper/internal/storage/sqlite"
)

// SQLiteFileName is the database file created under Storage.DataPath.
const SQLiteFileName = "lorekeeper.db"

// durableStore is what both storage backends provide.
type durableStore interface {
	storage.Store
	storage.FactVectorStore
}

// Open builds an Engine from the application configuration: the durable
// store, the volatile cache store and the LLM collaborators.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	logger = logging.OrNop(logger)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}

	volatile, err := openVolatile(ctx, cfg.Cache, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	deps := Dependencies{
		Store:    store,
		Vectors:  store,
		Volatile: volatile,
		Logger:   logger,
	}

	gen, err := llm.NewTextGenerator(cfg.LLM)
	if err != nil {
		closeAll(store, volatile)
		return nil, fmt.Errorf("create text generator: %w", err)
	}
	if gen != nil {
		deps.Summarizer = llm.NewSummarizer(gen, llm.SummarizerConfig{
			Timeout: cfg.LLM.SummarizerTimeout,
			RPS:     cfg.LLM.SummarizerRPS,
			Logger:  logger.Named("summarizer"),
		})
		deps.Generator = llm.NewGenerator(gen)
	}

	embedder, err := llm.NewEmbeddingGenerator(cfg.LLM)
	if err != nil {
		logger.Warn("embedding generator unavailable, fact search is keyword only", zap.Error(err))
	} else if embedder != nil {
		deps.Embedder = embedder
	}

	logger.Info("engine configured",
		zap.String("storage", cfg.Storage.Engine),
		zap.String("volatile", cfg.Cache.Volatile),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("embedding_provider", cfg.LLM.EmbeddingProvider))

	e, err := New(deps, ConfigFrom(cfg))
	if err != nil {
		closeAll(store, volatile)
		return nil, err
	}
	return e, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (durableStore, error) {
	switch cfg.Engine {
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		dsn := cfg.DataPath
		if dsn != ":memory:" {
			if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
			dsn = filepath.Join(cfg.DataPath, SQLiteFileName)
		}
		store, err := sqlite.NewStore(ctx, dsn, logger.Named("sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	}
}

// openVolatile returns nil for "none". An unreachable Redis is logged and
// kept: the cache degrades to its durable tier until Redis comes back.
func openVolatile(ctx context.Context, cfg config.CacheConfig, logger *zap.Logger) (cache.VolatileStore, error) {
	switch cfg.Volatile {
	case "none":
		return nil, nil
	case "redis":
		store, err := cache.NewRedisStore(cfg.RedisURL, cfg.RedisNamespace)
		if err != nil {
			return nil, fmt.Errorf("open redis store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.VolatileTimeout*10)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable, cache serves from the durable tier", zap.String("url", redactURL(cfg.RedisURL)), zap.Error(err))
		}
		return store, nil
	default:
		store, err := cache.NewLRUStore(cfg.LRUSize, nil)
		if err != nil {
			return nil, fmt.Errorf("open in-process cache: %w", err)
		}
		return store, nil
	}
}

func closeAll(store storage.Store, volatile cache.VolatileStore) {
	_ = store.Close()
	if volatile != nil {
		_ = volatile.Close()
	}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
