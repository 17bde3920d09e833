package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONToBuffer(t *testing.T) {
	var buf bytes.Buffer
	logData, err := New().FromBuffer(&buf).Level("warn").Make()
	require.NoError(t, err)

	logData.Logger.Info().Msg("dropped")
	logData.Logger.Warn().Str("branch", "user/alice").Msg("conflict")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var event map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, "warn", event["level"])
	assert.Equal(t, "user/alice", event["branch"])
	assert.Contains(t, event, "time")
	assert.NoError(t, logData.Close())
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logData, err := New().FromBuffer(&buf).Format("console").Make()
	require.NoError(t, err)

	logData.Logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "branchdb.log")
	logData, err := New().FromPath(path).Make()
	require.NoError(t, err)
	require.NotNil(t, logData.LogFile)

	logData.Logger.Info().Msg("to file")
	require.NoError(t, logData.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "to file")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New().Level("loud").Make()
	assert.Error(t, err)
}
