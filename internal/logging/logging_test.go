package logging_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/logging"
)

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := logging.New(false, false, &buf)
	l.Info("hello", zap.String("key", "value"))

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "value")
}

func TestNew_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logging.New(false, false, &buf).Debug("hidden")
	assert.Empty(t, buf.String())

	logging.New(true, false, &buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logging.New(false, true, &buf).Info("structured", zap.Int("count", 42))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	assert.Equal(t, "structured", parsed["msg"])
	assert.EqualValues(t, 42, parsed["count"])
}

func TestNew_MultipleWriters(t *testing.T) {
	var a, b bytes.Buffer
	logging.New(false, false, &a, &b).Info("multi")
	assert.Contains(t, a.String(), "multi")
	assert.Contains(t, b.String(), "multi")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, logging.OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, logging.OrNop(l))
}
