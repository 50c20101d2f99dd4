package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestComponentFieldInJSON(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, "info", "json"), "session")
	log.Info().Str("session_id", "s1").Msg("started")
	log.Debug().Msg("filtered")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &payload))
	assert.Equal(t, "session", payload["component"])
	assert.Equal(t, "parlor", payload["app"])
	assert.Equal(t, "started", payload["message"])
}
