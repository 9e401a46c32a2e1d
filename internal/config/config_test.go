package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Judge.PreWindow, cfg.Judge.PreWindow)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flashfreeze.yaml")
	require.NoError(t, os.WriteFile(path, []byte("judge:\n  pre_window: 9\n  post_window: 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), cfg.Judge.PreWindow)
	assert.Equal(t, uint64(3), cfg.Judge.PostWindow)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flashfreeze.yaml")
	require.NoError(t, os.WriteFile(path, []byte("judge:\n  pre_window: 9\n"), 0o644))
	t.Setenv("FLASHFREEZE_PRE_WINDOW", "42")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cfg.Judge.PreWindow)
}

func TestLoad_InvalidYAMLIsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flashfreeze.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
