package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	return rec
}

func TestInit_LevelAndJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", JSONOutput: true, Output: &buf})

	Logger.Info().Msg("filtered")
	assert.Zero(t, buf.Len())

	Logger.Warn().Msg("kept")
	rec := record(t, &buf)
	assert.Equal(t, "kept", rec["message"])
	assert.Contains(t, rec, "time")
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "loud", JSONOutput: true, Output: &buf})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestChildLoggers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", JSONOutput: true, Output: &buf})

	logger := ForEntity(ForChain(WithComponent("chainlink_monitor"), "regen"), "node_1")
	logger.Info().Msg("round done")

	rec := record(t, &buf)
	assert.Equal(t, "chainlink_monitor", rec["component"])
	assert.Equal(t, "regen", rec["chain"])
	assert.Equal(t, "node_1", rec["entity_id"])
}
