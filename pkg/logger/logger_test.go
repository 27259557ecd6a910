package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info().Msg("dropped")
	beds := Component("beds")
	beds.Warn().Str("bed_id", "b1").Msg("kept")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "beds", entry["component"])
	assert.Equal(t, "b1", entry["bed_id"])
}

func TestSetup_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(Config{Level: "loud", Format: "json", Output: &buf})
	assert.Equal(t, "info", l.GetLevel().String())
}
