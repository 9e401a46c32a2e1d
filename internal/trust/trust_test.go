package trust

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStore_ParsesAllowedKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trust_store.json"),
		[]byte(`{"allowed_keys":["aa","bb"]}`), 0o644))

	s, err := LoadStore(dir)
	require.NoError(t, err)
	assert.True(t, s.Allows("aa"))
	assert.False(t, s.Allows("cc"))
}

func TestLoadStore_MissingFileIsError(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadStore(dir)
	require.Error(t, err)
}

func TestLoadPolicy_MissingFileYieldsZeroValue(t *testing.T) {
	dir := t.TempDir()
	p, err := LoadPolicy(dir)
	require.NoError(t, err)
	assert.False(t, p.ElevateResidualGaps)
}

func TestLoadPolicy_ParsesElevationFlag(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "local_policy.json"),
		[]byte(`{"elevate_residual_gaps":true}`), 0o644))

	p, err := LoadPolicy(dir)
	require.NoError(t, err)
	assert.True(t, p.ElevateResidualGaps)
}
