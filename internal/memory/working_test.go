package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/storage"
	"github.com/scrypster/lorekeeper/pkg/types"
)

func TestWorkingMemory_KeepsLastTenInOrder(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{Now: clock.Now})

	for i := 1; i <= 15; i++ {
		_, err := wm.Append(ctx, 1, types.MemoryEvent{
			EventType:   "dialogue",
			Description: fmt.Sprintf("E%d", i),
		})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	events, err := wm.Recent(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("E%d", i+6), ev.Description)
	}

	n, err := wm.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestWorkingMemory_FewerThanCapacity(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{Now: clock.Now})

	for i := 1; i <= 3; i++ {
		_, err := wm.Append(ctx, 1, types.MemoryEvent{Description: fmt.Sprintf("E%d", i)})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	events, err := wm.Recent(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "E1", events[0].Description)
	assert.Equal(t, "E3", events[2].Description)

	limited, err := wm.Recent(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestWorkingMemory_EmptyEntity(t *testing.T) {
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{})

	events, err := wm.Recent(context.Background(), 42, 5)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestWorkingMemory_AppendFillsDefaults(t *testing.T) {
	clock := newFakeClock()
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{Now: clock.Now})

	ev, err := wm.Append(context.Background(), 3, types.MemoryEvent{
		Description:  "  Met Mira at the gate  ",
		Participants: []string{"Mira", "Tomas", "Mira", " "},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, int64(3), ev.EntityID)
	assert.Equal(t, "event", ev.EventType)
	assert.Equal(t, "Met Mira at the gate", ev.Description)
	assert.Equal(t, []string{"Mira", "Tomas"}, ev.Participants)
	assert.True(t, ev.CreatedAt.Equal(base))
}

func TestWorkingMemory_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{})

	_, err := wm.Append(ctx, 0, types.MemoryEvent{Description: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = wm.Append(ctx, 1, types.MemoryEvent{Description: "   "})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = wm.Recent(ctx, -1, 5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestWorkingMemory_ConcurrentAppendsStayBounded(t *testing.T) {
	ctx := context.Background()
	wm := NewWorkingMemory(newStore(t), WorkingMemoryConfig{Capacity: 5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := wm.Append(ctx, 1, types.MemoryEvent{Description: fmt.Sprintf("E%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	n, err := wm.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}
