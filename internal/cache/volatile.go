package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrMiss is returned by a VolatileStore when the key is absent.
var ErrMiss = errors.New("cache miss")

// VolatileStore is the fast key-value tier. It is shared and may disappear
// at any time; callers treat every error as a miss.
type VolatileStore interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes every key matching the glob pattern ('*' and '?').
	Delete(ctx context.Context, pattern string) (int, error)
	// Incr increments the counter at key, (re)arming its TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Close() error
}

// envelope is the value stored in the volatile tier. The physical TTL on
// the key is a storage hint; expiry is decided at read time from ExpiresAt.
type envelope struct {
	Payload   string `json:"p"`
	ExpiresAt int64  `json:"e"`
}

func encodeEnvelope(payload string, expiresAt time.Time) string {
	data, _ := json.Marshal(envelope{Payload: payload, ExpiresAt: expiresAt.UnixNano()})
	return string(data)
}

func decodeEnvelope(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, fmt.Errorf("decode cache envelope: %w", err)
	}
	return env, nil
}

func (e envelope) expired(now time.Time) bool {
	return now.UnixNano() > e.ExpiresAt
}

// globRegexp compiles a glob with '*' and '?' wildcards into an anchored
// regular expression.
func globRegexp(pattern string) (*regexp.Regexp, error) {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	return regexp.Compile("^" + quoted + "$")
}
