package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/tabcon/internal/config"
	"github.com/standardbeagle/tabcon/internal/inject"
	"github.com/standardbeagle/tabcon/internal/logging"
)

func TestInject_RejectsBadArguments(t *testing.T) {
	cfg := config.DefaultConfig()
	for _, args := range [][]string{
		nil,
		{"123"},
		{"0", "44"},
		{"123", "0"},
		{"abc", "44"},
	} {
		err := injectTarget(args, cfg, logging.Discard())
		require.Error(t, err, "args %v", args)
		assert.ErrorIs(t, err, inject.ErrInvalidHelperArgs)
	}
}

func TestRun_ExitCode(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	assert.Equal(t, 1, run([]string{"not-a-pid"}))
}
