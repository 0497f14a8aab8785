package auth

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateKey_WhenNoFile_CreatesKeyWithPrivatePermissions(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")

	key, err := LoadOrCreateKey(dir)
	require.NoError(t, err)

	assert.Len(t, key, 64)
	_, err = hex.DecodeString(string(key))
	assert.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadOrCreateKey_WhenFileExists_ReturnsTrimmedContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("existing-key\n"), 0600))

	key, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, []byte("existing-key"), key)
}

func TestLoadOrCreateKey_WhenFileBlank_GeneratesKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("  \n"), 0600))

	key, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Len(t, key, 64)
}

func TestLoadOrCreateKey_CalledTwice_ReturnsSameKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	first, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	second, err := LoadOrCreateKey(dir)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRotateKey_ReplacesKey(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	original, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	rotated, err := RotateKey(dir)
	require.NoError(t, err)
	assert.NotEqual(t, original, rotated)

	loaded, err := LoadOrCreateKey(dir)
	require.NoError(t, err)
	assert.Equal(t, rotated, loaded)
}
