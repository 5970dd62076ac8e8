package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the SCAN COUNT hint and the DEL batch size for Delete.
const scanBatch = 200

// DefaultRedisNamespace prefixes every key the cache writes to Redis.
const DefaultRedisNamespace = "lorekeeper:"

// RedisStore is a VolatileStore backed by a Redis server that other
// applications may share. Every key lives under the store's namespace and
// Delete never matches outside it.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

// NewRedisStore connects to the Redis server at url
// (redis://[user:pass@]host:port/db). An empty namespace uses
// DefaultRedisNamespace.
func NewRedisStore(url, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), namespace), nil
}

// NewRedisStoreFromClient wraps an existing client. Close closes the client.
func NewRedisStoreFromClient(client *redis.Client, namespace string) *RedisStore {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisStore{client: client, namespace: namespace}
}

// Namespace returns the prefix applied to every key.
func (s *RedisStore) Namespace() string {
	return s.namespace
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, s.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete walks the namespace with SCAN MATCH and removes matches in batches.
func (s *RedisStore) Delete(ctx context.Context, pattern string) (int, error) {
	var (
		deleted int
		batch   []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	match := redisMatch(s.namespace, false) + redisMatch(pattern, true)
	iter := s.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan: %w", err)
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, s.namespace+key)
		if ttl > 0 {
			pipe.Expire(ctx, s.namespace+key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisMatch escapes text for SCAN MATCH. Character classes and
// backslashes are always literal; '*' and '?' stay wildcards only when
// wildcards is set.
func redisMatch(text string, wildcards bool) string {
	var b strings.Builder
	b.Grow(len(text) + 4)
	for _, r := range text {
		switch r {
		case '[', ']', '\\':
			b.WriteByte('\\')
		case '*', '?':
			if !wildcards {
				b.WriteByte('\\')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

var _ VolatileStore = (*RedisStore)(nil)
