package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/icloud-go/internal/config"
)

func runCommand(t *testing.T, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)

	return cmd.Execute()
}

func TestConfigInit_WritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, runCommand(t, "config", "init", "--config", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[defaults]")
}

func TestConfigAddPauseResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	require.NoError(t, config.WriteTemplate(path))
	require.NoError(t, runCommand(t, "config", "add", "a@example.com", "/photos", "--config", path))
	require.NoError(t, runCommand(t, "config", "pause", "a@example.com", "--config", path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `username = "a@example.com"`)
	assert.Contains(t, string(data), "paused = true")

	require.NoError(t, runCommand(t, "config", "resume", "a@example.com", "--config", path))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "paused = false")
}

func TestConfigPause_UnknownAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.WriteTemplate(path))

	err := runCommand(t, "config", "pause", "nobody@example.com", "--config", path)
	assert.Error(t, err)
}
