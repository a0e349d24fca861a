package fs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileRoundTrip(t *testing.T) {
	f := New()
	dir := t.TempDir()
	name := filepath.Join(dir, "nested", "sample.txt")

	require.NoError(t, f.MkdirAll(filepath.Dir(name)))
	require.NoError(t, f.WriteFile(name, "contents"))

	exists, err := f.FileExists(name)
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := f.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	require.NoError(t, f.Remove(name))
	exists, err = f.FileExists(name)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileExistsOnDirectory(t *testing.T) {
	f := New()

	// A directory is not a file.
	exists, err := f.FileExists(t.TempDir())
	require.NoError(t, err)
	assert.False(t, exists)
}
