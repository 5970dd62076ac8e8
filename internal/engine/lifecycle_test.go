package engine

import (
	"context"
	"testing"
	"time"

	"github.com/scrypster/lorekeeper/pkg/types"
)

// TestEngine_DoubleStart verifies that calling Start() twice returns an error.
func TestEngine_DoubleStart(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("First Start() failed: %v", err)
	}

	err := engine.Start(ctx)
	if err == nil {
		t.Fatal("Expected second Start() to return an error, got nil")
	}
	if err.Error() != "engine already started" {
		t.Errorf("Expected error message 'engine already started', got: %v", err)
	}

	// The engine stays usable.
	if _, err := engine.RecordEvent(ctx, 1, types.MemoryEvent{Description: "still works"}); err != nil {
		t.Errorf("RecordEvent() failed after double Start attempt: %v", err)
	}

	if err := engine.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

// TestEngine_ShutdownBeforeStart verifies Shutdown() on an idle engine errors.
func TestEngine_ShutdownBeforeStart(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	err := engine.Shutdown(context.Background())
	if err == nil || err.Error() != "engine not started" {
		t.Fatalf("Expected 'engine not started', got: %v", err)
	}
}

// TestEngine_EnqueueRequiresRunningEngine verifies jobs are refused before
// Start and after Shutdown.
func TestEngine_EnqueueRequiresRunningEngine(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	if engine.EnqueueCompression(1) {
		t.Error("EnqueueCompression() accepted a job before Start")
	}

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	if engine.EnqueueCompression(1) {
		t.Error("EnqueueCompression() accepted a job after Shutdown")
	}
}

// TestEngine_Restart verifies the engine can be started again after Shutdown.
func TestEngine_Restart(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := engine.Start(ctx); err != nil {
			t.Fatalf("Start() #%d failed: %v", i+1, err)
		}
		if !engine.EnqueueCompression(7) {
			t.Fatalf("EnqueueCompression() refused on run #%d", i+1)
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := engine.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			t.Fatalf("Shutdown() #%d failed: %v", i+1, err)
		}
	}
}

// TestEngine_PendingDeduplicates verifies an entity is queued at most once.
func TestEngine_PendingDeduplicates(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	if !engine.markPending(3) {
		t.Fatal("first markPending() must succeed")
	}
	if engine.markPending(3) {
		t.Fatal("second markPending() must report the entity as pending")
	}
	engine.clearPending(3)
	if !engine.markPending(3) {
		t.Fatal("markPending() must succeed after clearPending()")
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero workers":      func(c *Config) { c.NumWorkers = 0 },
		"zero queue":        func(c *Config) { c.QueueSize = 0 },
		"negative retries":  func(c *Config) { c.MaxRetries = -1 },
		"zero capacity":     func(c *Config) { c.WorkingCapacity = 0 },
		"negative interval": func(c *Config) { c.PurgeInterval = -time.Second },
		"zero sweep batch":  func(c *Config) { c.SweepBatchSize = 0 },
		"negative age":      func(c *Config) { c.CompressionAgeDays = -2 },
		"negative shutdown": func(c *Config) { c.ShutdownTimeout = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() must be valid: %v", err)
	}
}
