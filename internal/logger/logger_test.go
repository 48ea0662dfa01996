package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(Config{Level: "debug", Output: &buf}), "ingestor")

	l.Info().Str("document_id", "d1").Msg("document completed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "contexta", line["service"])
	assert.Equal(t, "ingestor", line["component"])
	assert.Equal(t, "d1", line["document_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	Audit(l).Str("owner_id", "u1").Msg("dropped foreign document ids")
	assert.Contains(t, buf.String(), `"audit":true`)
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "chatty", Output: &buf})

	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Info().Msg("shown")
	assert.NotZero(t, buf.Len())
}
