package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/storage"
)

// keywordEmbedder maps text onto a tiny fixed vocabulary so similarity is
// predictable.
type keywordEmbedder struct {
	fail bool
}

var vocabulary = []string{"dragon", "village", "blacksmith"}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder offline")
	}
	text = strings.ToLower(text)
	vec := make([]float32, len(vocabulary))
	for i, word := range vocabulary {
		if strings.Contains(text, word) {
			vec[i] = 1
		}
	}
	return vec, nil
}

func (e *keywordEmbedder) GetModel() string { return "keyword-test" }

func TestLongTermMemory_ReinforceClamps(t *testing.T) {
	ctx := context.Background()
	ltm := NewLongTermMemory(newStore(t), LongTermMemoryConfig{Now: newFakeClock().Now})

	_, err := ltm.Remember(ctx, 1, "Saved the village", 0.9)
	require.NoError(t, err)

	got, err := ltm.Reinforce(ctx, 1, "Saved the village", 0.05)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got, 1e-9)

	got, err = ltm.Reinforce(ctx, 1, "Saved the village", 0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	got, err = ltm.Reinforce(ctx, 1, "Saved the village", -3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)
}

func TestLongTermMemory_ReinforceCreatesMissingFact(t *testing.T) {
	ctx := context.Background()
	ltm := NewLongTermMemory(newStore(t), LongTermMemoryConfig{})

	got, err := ltm.Reinforce(ctx, 1, "Owes the innkeeper", 0.3)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, got, 1e-9)

	fact, err := ltm.Get(ctx, 1, "Owes the innkeeper")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, fact.Importance, 1e-9)
}

func TestLongTermMemory_RememberKeepsHigherImportance(t *testing.T) {
	ctx := context.Background()
	ltm := NewLongTermMemory(newStore(t), LongTermMemoryConfig{})

	_, err := ltm.Remember(ctx, 1, "Fears the dark", 0.8)
	require.NoError(t, err)
	fact, err := ltm.Remember(ctx, 1, "Fears the dark", 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, fact.Importance, 1e-9)

	fact, err = ltm.Remember(ctx, 1, "Loves apples", 7)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fact.Importance)

	_, err = ltm.Remember(ctx, 1, "  ", 0.5)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestLongTermMemory_TopOrdersByImportance(t *testing.T) {
	ctx := context.Background()
	ltm := NewLongTermMemory(newStore(t), LongTermMemoryConfig{Now: newFakeClock().Now})

	for content, importance := range map[string]float64{
		"Met the blacksmith": 0.4,
		"Slew the dragon":    0.95,
		"Saved the village":  0.7,
	} {
		_, err := ltm.Remember(ctx, 1, content, importance)
		require.NoError(t, err)
	}

	top, err := ltm.Top(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "Slew the dragon", top[0].Content)
	assert.Equal(t, "Saved the village", top[1].Content)

	none, err := ltm.Top(ctx, 99, 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestLongTermMemory_KeywordSearch(t *testing.T) {
	ctx := context.Background()
	ltm := NewLongTermMemory(newStore(t), LongTermMemoryConfig{})

	_, err := ltm.Remember(ctx, 1, "Met the blacksmith in Oakvale", 0.4)
	require.NoError(t, err)
	_, err = ltm.Remember(ctx, 1, "Slew the dragon", 0.9)
	require.NoError(t, err)

	found, err := ltm.Search(ctx, 1, "blacksmith", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Met the blacksmith in Oakvale", found[0].Content)

	found, err = ltm.Search(ctx, 1, "unicorn", 5)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = ltm.Search(ctx, 1, "", 5)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestLongTermMemory_SemanticSearch(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	ltm := NewLongTermMemory(store, LongTermMemoryConfig{Vectors: store, Embedder: &keywordEmbedder{}})

	_, err := ltm.Remember(ctx, 1, "Slew the dragon", 0.2)
	require.NoError(t, err)
	_, err = ltm.Remember(ctx, 1, "Saved the village", 0.9)
	require.NoError(t, err)

	found, err := ltm.Search(ctx, 1, "what happened with the dragon", 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Slew the dragon", found[0].Content)
}

func TestLongTermMemory_SemanticSearchFallsBackToKeywords(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := &keywordEmbedder{}
	ltm := NewLongTermMemory(store, LongTermMemoryConfig{Vectors: store, Embedder: embedder})

	_, err := ltm.Remember(ctx, 1, "Met the blacksmith", 0.4)
	require.NoError(t, err)

	embedder.fail = true
	found, err := ltm.Search(ctx, 1, "blacksmith", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Met the blacksmith", found[0].Content)
}
