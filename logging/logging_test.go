package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxpert/logcursor/cfg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "geo.log")

	logger, closer, err := New(cfg.LoggingConfiguration{File: path, Format: "json"}, "abc123")
	require.NoError(t, err)

	logger.Info().Int64("event_id", 7).Msg("Event log gap filled")
	logger.Debug().Msg("hidden at info level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "Event log gap filled", record["message"])
	assert.Equal(t, "abc123", record["instance_id"])
	assert.EqualValues(t, 7, record["event_id"])
}

func TestNewVerboseLevel(t *testing.T) {
	logger, closer, err := New(cfg.LoggingConfiguration{Verbose: true, Format: "json"}, "")
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
}

func TestNewAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geo.log")
	c := cfg.LoggingConfiguration{File: path, Stdout: true, Format: "json"}

	for i := 0; i < 2; i++ {
		logger, closer, err := New(c, "")
		require.NoError(t, err)
		logger.Info().Msg("cycle")
		require.NoError(t, closer.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), `"cycle"`))
}
