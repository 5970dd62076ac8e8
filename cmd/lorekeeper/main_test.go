package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/lorekeeper/internal/config"
	"github.com/scrypster/lorekeeper/pkg/types"
)

// run executes the root command with args against a temp data directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfigPath, "")
	t.Setenv("LOREKEEPER_DATA_PATH", t.TempDir())
	t.Setenv("LOREKEEPER_CACHE_VOLATILE", "none")
}

func TestEventsAddAndList(t *testing.T) {
	isolate(t)

	_, err := run(t, "events", "1", "--add", "Entered the mine", "--type", "quest")
	require.NoError(t, err)
	_, err = run(t, "events", "1", "--add", "Found the ore")
	require.NoError(t, err)

	out, err := run(t, "events", "1")
	require.NoError(t, err)

	var events []types.MemoryEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 2)
	assert.Equal(t, "Entered the mine", events[0].Description)
	assert.Equal(t, "quest", events[0].EventType)
}

func TestContextPrintsEverySection(t *testing.T) {
	isolate(t)

	out, err := run(t, "context", "3")
	require.NoError(t, err)

	var bundle map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &bundle))
	for _, section := range []string{
		types.SectionWorkingMemory,
		types.SectionEpisodeSummaries,
		types.SectionLongTermFacts,
		types.SectionWorldState,
		types.SectionNarrativeSummary,
	} {
		assert.Contains(t, bundle, section)
	}
}

func TestCompressWithNothingAged(t *testing.T) {
	isolate(t)

	_, err := run(t, "events", "1", "--add", "Fresh news")
	require.NoError(t, err)

	out, err := run(t, "compress", "1")
	require.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(out))

	out, err = run(t, "compress", "1", "--age-days", "0")
	require.NoError(t, err)
	var episode types.EpisodeSummary
	require.NoError(t, json.Unmarshal([]byte(out), &episode))
	assert.Equal(t, 1, episode.EventCount)
}

func TestFactsAndWorld(t *testing.T) {
	isolate(t)

	out, err := run(t, "facts", "1")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = run(t, "world", "1")
	require.NoError(t, err)
	var state types.WorldState
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, int64(1), state.EntityID)
}

func TestCacheCommands(t *testing.T) {
	isolate(t)

	out, err := run(t, "cache", "purge")
	require.NoError(t, err)
	assert.Equal(t, "purged 0 entries\n", out)

	out, err = run(t, "cache", "invalidate", "l1:*")
	require.NoError(t, err)
	assert.Equal(t, "removed 0 entries\n", out)
}

func TestInvalidEntityID(t *testing.T) {
	isolate(t)

	_, err := run(t, "events", "zero")
	assert.Error(t, err)
	_, err = run(t, "context", "-4")
	assert.Error(t, err)
}
