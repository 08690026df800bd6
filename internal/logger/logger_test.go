package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyst.log")

	log, err := New(Options{Level: "info", File: path})
	require.NoError(t, err)

	log.Named("router").Info("route selected")
	log.Debug("filtered out")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"route selected"`)
	assert.Contains(t, string(data), `"logger":"router"`)
	assert.False(t, strings.Contains(string(data), "filtered out"))
}
