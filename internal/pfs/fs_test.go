package pfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemResolve(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0755))

	fs, err := NewFileSystem(root, ZeroFiller{})
	require.NoError(t, err)
	defer fs.Close()

	var tests = []struct {
		name   string
		path   string
		assert func(t *testing.T, actual string, err error)
	}{
		{
			name: "file in root",
			path: "file",
			assert: func(t *testing.T, actual string, err error) {
				assert.NoError(t, err)
				assert.Equal(t, filepath.Join(fs.Root(), "file"), actual)
			},
		},
		{
			name: "nested file",
			path: "dir/file",
			assert: func(t *testing.T, actual string, err error) {
				assert.NoError(t, err)
				assert.Equal(t, filepath.Join(fs.Root(), "dir", "file"), actual)
			},
		},
		{
			name: "cleaned inside root",
			path: "dir/../file",
			assert: func(t *testing.T, actual string, err error) {
				assert.NoError(t, err)
				assert.Equal(t, filepath.Join(fs.Root(), "file"), actual)
			},
		},
		{
			name: "parent directory",
			path: "../file",
			assert: func(t *testing.T, actual string, err error) {
				assert.ErrorIs(t, err, ErrInvalidPath)
			},
		},
		{
			name: "absolute path",
			path: "/etc/passwd",
			assert: func(t *testing.T, actual string, err error) {
				assert.ErrorIs(t, err, ErrInvalidPath)
			},
		},
		{
			name: "symlink out of root",
			path: "escape/file",
			assert: func(t *testing.T, actual string, err error) {
				assert.ErrorIs(t, err, ErrInvalidPath)
			},
		},
		{
			name: "empty path",
			path: "",
			assert: func(t *testing.T, actual string, err error) {
				assert.ErrorIs(t, err, ErrInvalidPath)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			actual, err := fs.Resolve(tt.path)
			tt.assert(t, actual, err)
		})
	}
}

func TestFileSystemHandles(t *testing.T) {
	fs, err := NewFileSystem(t.TempDir(), ZeroFiller{})
	require.NoError(t, err)
	defer fs.Close()

	created, err := fs.Create("a/b/file", 10000)
	require.NoError(t, err)
	_, err = fs.Create("a/b/file", 10000)
	assert.Error(t, err)

	opened, err := fs.Open("a/b/../b/file")
	require.NoError(t, err)
	assert.Equal(t, created, opened)
	assert.Equal(t, 1, fs.Len())

	pf, err := fs.File(opened)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), pf.Size())
	assert.True(t, pf.IsPartial())

	require.NoError(t, fs.CloseHandle(opened))
	assert.ErrorIs(t, fs.CloseHandle(opened), ErrUnknownHandle)
	_, err = fs.File(opened)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	reopened, err := fs.Open("a/b/file")
	require.NoError(t, err)
	assert.NotEqual(t, created, reopened)

	_, err = fs.Open("missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = fs.Create("../outside", 1)
	assert.ErrorIs(t, err, ErrInvalidPath)
}
