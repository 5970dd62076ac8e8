package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type lruItem struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// LRUStore is an in-process VolatileStore with a fixed entry budget. The
// least recently used entry is evicted when the budget is exceeded.
type LRUStore struct {
	mu    sync.Mutex // serialises read-modify-write in Incr
	items *lru.Cache[string, lruItem]
	now   func() time.Time
}

// NewLRUStore creates a store holding at most size entries. now defaults
// to time.Now.
func NewLRUStore(size int, now func() time.Time) (*LRUStore, error) {
	items, err := lru.New[string, lruItem](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &LRUStore{items: items, now: now}, nil
}

func (s *LRUStore) Get(_ context.Context, key string) (string, error) {
	item, ok := s.items.Get(key)
	if !ok {
		return "", ErrMiss
	}
	if !item.expiresAt.IsZero() && s.now().After(item.expiresAt) {
		s.items.Remove(key)
		return "", ErrMiss
	}
	return item.value, nil
}

func (s *LRUStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.items.Add(key, s.item(value, ttl))
	return nil
}

func (s *LRUStore) Delete(_ context.Context, pattern string) (int, error) {
	re, err := globRegexp(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	deleted := 0
	for _, key := range s.items.Keys() {
		if re.MatchString(key) && s.items.Remove(key) {
			deleted++
		}
	}
	return deleted, nil
}

func (s *LRUStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if raw, err := s.Get(ctx, key); err == nil {
		n, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer", key)
		}
	}
	n++
	s.items.Add(key, s.item(strconv.FormatInt(n, 10), ttl))
	return n, nil
}

// Len returns the number of entries, expired ones included.
func (s *LRUStore) Len() int {
	return s.items.Len()
}

func (s *LRUStore) Close() error {
	s.items.Purge()
	return nil
}

func (s *LRUStore) item(value string, ttl time.Duration) lruItem {
	item := lruItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}
	return item
}

var _ VolatileStore = (*LRUStore)(nil)
