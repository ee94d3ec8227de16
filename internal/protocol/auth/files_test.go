package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFileRequest(t *testing.T) {
	assert.True(t, checkFileRequest("Python", "pak"))
	assert.True(t, checkFileRequest("SDL", "sdl"))
	assert.False(t, checkFileRequest("Python", "sdl"))
	assert.False(t, checkFileRequest("SDL", "pak"))
	assert.False(t, checkFileRequest("dat", "prp"))
	assert.False(t, checkFileRequest("..", "pak"))
}

func TestResolveServerFile(t *testing.T) {
	root := t.TempDir()

	path, ok := resolveServerFile(root, `Python\system.pak`)
	require.True(t, ok)
	require.Equal(t, filepath.Join(root, "Python", "system.pak"), path)

	_, ok = resolveServerFile(root, `Python\..\etc`)
	assert.False(t, ok, "traversal must be rejected")
	_, ok = resolveServerFile(root, `Python\..`)
	assert.False(t, ok, "dotfile names must be rejected")
	_, ok = resolveServerFile(root, `system.pak`)
	assert.False(t, ok, "bare filenames must be rejected")
	_, ok = resolveServerFile(root, `Python\sub\system.pak`)
	assert.False(t, ok, "nested paths must be rejected")
	_, ok = resolveServerFile(root, `dat\file.prp`)
	assert.False(t, ok, "non-whitelisted dirs must be rejected")
	_, ok = resolveServerFile(root, `SDL\city.pak`)
	assert.False(t, ok, "extension must match the directory")
}

func TestListServerFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "SDL"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "SDL", "city.sdl"), []byte("STATEDESC"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "SDL", "notes.txt"), []byte("skip me"), 0o644))

	files, ok := listServerFiles(root, "SDL", "sdl")
	require.True(t, ok)
	require.Len(t, files, 1)
	assert.Equal(t, `SDL\city.sdl`, files[0].path)
	assert.Equal(t, uint32(9), files[0].size)

	_, ok = listServerFiles(root, "dat", "prp")
	assert.False(t, ok)

	files, ok = listServerFiles(root, "Python", "pak")
	require.True(t, ok, "whitelisted but missing directory serves an empty list")
	assert.Empty(t, files)
}
