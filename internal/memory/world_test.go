package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/pkg/types"
)

func TestWorldStates_MergesPatches(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ws := NewWorldStates(newStore(t), clock.Now)

	_, err := ws.Update(ctx, 1, types.WorldStatePatch{
		NPCRelationships:  map[string]string{"Mira": "friendly"},
		UnlockedLocations: []string{"Oakvale"},
	})
	require.NoError(t, err)

	state, err := ws.Update(ctx, 1, types.WorldStatePatch{
		NPCRelationships:  map[string]string{"Tomas": "rival"},
		UnlockedLocations: []string{"Oakvale", "Ironhold"},
		StoryFlags:        map[string]interface{}{"chapter": float64(2)},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Mira": "friendly", "Tomas": "rival"}, state.NPCRelationships)
	assert.Equal(t, []string{"Ironhold", "Oakvale"}, state.UnlockedLocations)
	assert.Equal(t, float64(2), state.StoryFlags["chapter"])

	reread, err := ws.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, state.NPCRelationships, reread.NPCRelationships)
	assert.Equal(t, state.UnlockedLocations, reread.UnlockedLocations)
}

func TestWorldStates_DefaultAndEmptyPatch(t *testing.T) {
	ctx := context.Background()
	ws := NewWorldStates(newStore(t), nil)

	state, err := ws.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), state.EntityID)
	assert.Empty(t, state.NPCRelationships)
	assert.Empty(t, state.UnlockedLocations)

	same, err := ws.Update(ctx, 5, types.WorldStatePatch{})
	require.NoError(t, err)
	assert.Equal(t, state.EntityID, same.EntityID)
}
