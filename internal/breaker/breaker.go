// Package breaker wraps gobreaker for the external dependencies lorekeeper
// talks to: generator/summarizer HTTP APIs and the volatile cache store.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrOpen is returned when the breaker is open and rejects the call.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the breaker configuration.
type Config struct {
	// Name identifies the breaker in logs.
	Name string

	// MaxFailures is the number of consecutive failures required to trip.
	// Default: 3
	MaxFailures uint32

	// Timeout is how long the circuit stays open before going half-open.
	// Default: 30 seconds
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of successes in half-open state
	// needed to close the circuit again.
	// Default: 2
	HalfOpenMaxSuccesses uint32

	// IsSuccessful classifies errors that should not count as failures
	// (for example a cache miss). Nil counts every non-nil error.
	IsSuccessful func(err error) bool

	Logger *zap.Logger
}

// Metrics holds counters about breaker operations.
type Metrics struct {
	TotalRequests        uint64
	TotalSuccesses       uint64
	TotalFailures        uint64
	Rejected             uint64
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker protects calls to a flaky dependency. It has three states:
// closed (calls pass), open (calls fail fast with ErrOpen) and half-open
// (a limited number of probe calls decide whether to close again).
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	mu      sync.Mutex
	metrics Metrics
}

// New creates a breaker, filling zero config fields with defaults.
func New(config Config) *Breaker {
	if config.Name == "" {
		config.Name = "breaker"
	}
	if config.MaxFailures == 0 {
		config.MaxFailures = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxSuccesses == 0 {
		config.HalfOpenMaxSuccesses = 2
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:         config.Name,
		MaxRequests:  config.HalfOpenMaxSuccesses,
		Interval:     0, // never clear counts while closed
		Timeout:      config.Timeout,
		IsSuccessful: config.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. It returns ErrOpen without calling
// fn while the circuit is open, and ctx.Err() if ctx is already done.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do is the value-returning form of Execute.
func Do[T any](ctx context.Context, b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		b.record(err)
		return zero, err
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.reject()
		return zero, ErrOpen
	}
	b.record(err)
	if result == nil {
		return zero, err
	}
	return result.(T), err
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Metrics returns a snapshot of the breaker counters.
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	counts := b.cb.Counts()
	m := b.metrics
	m.ConsecutiveSuccesses = counts.ConsecutiveSuccesses
	m.ConsecutiveFailures = counts.ConsecutiveFailures
	return m
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalRequests++
	if err != nil {
		b.metrics.TotalFailures++
	} else {
		b.metrics.TotalSuccesses++
	}
}

func (b *Breaker) reject() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalRequests++
	b.metrics.Rejected++
}
