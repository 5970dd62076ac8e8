package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("operation failed")

func fail() error { return errBoom }

// TestBreaker_Closed verifies calls pass through in the closed state.
func TestBreaker_Closed(t *testing.T) {
	b := New(Config{Name: "test"})

	got, err := Do(context.Background(), b, func() (string, error) { return "success", nil })
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "success" {
		t.Fatalf("result = %q, want success", got)
	}
	if state := b.State(); state != "closed" {
		t.Fatalf("state = %s, want closed", state)
	}
}

// TestBreaker_OpensAfterConsecutiveFailures verifies the trip threshold and
// that an open breaker rejects without calling through.
func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{MaxFailures: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: err = %v, want errBoom", i+1, err)
		}
	}
	if state := b.State(); state != "open" {
		t.Fatalf("state = %s, want open", state)
	}

	called := false
	err := b.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("open breaker must not call through")
	}

	m := b.Metrics()
	if m.TotalFailures != 3 || m.Rejected != 1 || m.TotalRequests != 4 {
		t.Fatalf("metrics = %+v", m)
	}
}

// TestBreaker_HalfOpenRecovers verifies the open -> half-open -> closed path.
func TestBreaker_HalfOpenRecovers(t *testing.T) {
	b := New(Config{MaxFailures: 1, Timeout: 50 * time.Millisecond, HalfOpenMaxSuccesses: 2})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	if state := b.State(); state != "open" {
		t.Fatalf("state = %s, want open", state)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.State() != "half-open" {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for half-open")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		if err := b.Execute(ctx, func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i+1, err)
		}
	}
	if state := b.State(); state != "closed" {
		t.Fatalf("state = %s, want closed", state)
	}
}

// TestBreaker_IsSuccessful verifies classified errors do not trip the breaker.
func TestBreaker_IsSuccessful(t *testing.T) {
	errMiss := errors.New("miss")
	b := New(Config{
		MaxFailures:  1,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errMiss) },
	})

	for i := 0; i < 5; i++ {
		if err := b.Execute(context.Background(), func() error { return errMiss }); !errors.Is(err, errMiss) {
			t.Fatalf("err = %v, want errMiss", err)
		}
	}
	if state := b.State(); state != "closed" {
		t.Fatalf("state = %s, want closed", state)
	}
}

// TestBreaker_CancelledContext verifies a done context short-circuits.
func TestBreaker_CancelledContext(t *testing.T) {
	b := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := b.Execute(ctx, func() error { called = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if called {
		t.Fatal("fn must not run with a cancelled context")
	}
}
