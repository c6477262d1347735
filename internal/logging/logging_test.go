package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabcon/internal/config"
)

func TestNew_Level(t *testing.T) {
	log, closeLog, err := New(config.LoggingSettings{Level: "debug"})
	require.NoError(t, err)
	defer closeLog()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNew_DefaultsToInfo(t *testing.T) {
	log, closeLog, err := New(config.LoggingSettings{})
	require.NoError(t, err)
	defer closeLog()
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(config.LoggingSettings{Level: "chatty"})
	assert.Error(t, err)
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tabcon.log")
	log, closeLog, err := New(config.LoggingSettings{Level: "info", File: path})
	require.NoError(t, err)

	log.WithField("pid", 42).Info("agent connected")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "agent connected")
	assert.Contains(t, string(data), "pid=42")
}

func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.IsLevelEnabled(logrus.ErrorLevel))
	log.Error("dropped")
}
