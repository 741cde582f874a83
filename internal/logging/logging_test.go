package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONOutputEmitsStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})

	l.Info().Str("database_id", "abc").Msg("engine opened")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "engine opened", rec["message"])
	assert.Equal(t, "abc", rec["database_id"])
}

func TestWithComponentTagsSubsequentRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: InfoLevel, JSONOutput: true, Output: &buf})
	walLog := WithComponent(l, "wal")

	walLog.Info().Msg("segment rotated")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "wal", rec["component"])
}

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	l.Info().Msg("should be filtered")
	assert.Empty(t, buf.Bytes())

	l.Warn().Msg("should appear")
	assert.NotEmpty(t, buf.Bytes())
}
