package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormatWritesKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("debug", "json", &buf).With("component", "resolver")
	log.Info("conversation created", "conversation_id", "m1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "conversation created", rec["msg"])
	assert.Equal(t, "m1", rec["conversation_id"])
	assert.Equal(t, "resolver", rec["component"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithFormat("warn", "json", &buf)
	log.Info("skipped")
	assert.Zero(t, buf.Len())
	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
