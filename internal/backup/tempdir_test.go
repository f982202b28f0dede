package backup

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempDirAllocatorAllocate(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/scratch", 0755))
	alloc := NewTempDirAllocator(fs, "/scratch")

	first, err := alloc.Allocate()
	require.NoError(t, err)
	second, err := alloc.Allocate()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	for _, dir := range []string{first, second} {
		assert.Equal(t, "/scratch", filepath.Dir(dir))
		assert.True(t, strings.HasPrefix(filepath.Base(dir), "archivist-"))

		isDir, err := afero.IsDir(fs, dir)
		require.NoError(t, err)
		assert.True(t, isDir)

		empty, err := afero.IsEmpty(fs, dir)
		require.NoError(t, err)
		assert.True(t, empty)
	}
}

func TestTempDirAllocatorSkipsTakenNames(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/scratch/fixed-0", 0755))
	require.NoError(t, fs.MkdirAll("/scratch/fixed-1", 0755))

	alloc := NewTempDirAllocator(fs, "/scratch", WithNamePrefix(func() string { return "fixed-" }))
	dir, err := alloc.Allocate()
	require.NoError(t, err)
	assert.Equal(t, "/scratch/fixed-2", dir)
}

func TestTempDirAllocatorExhausted(t *testing.T) {
	fs := afero.NewMemMapFs()
	for _, name := range []string{"fixed-0", "fixed-1", "fixed-2"} {
		require.NoError(t, fs.MkdirAll(filepath.Join("/scratch", name), 0755))
	}

	alloc := NewTempDirAllocator(fs, "/scratch",
		WithNamePrefix(func() string { return "fixed-" }),
		WithAttemptLimit(3),
	)
	dir, err := alloc.Allocate()
	require.Error(t, err)
	assert.Empty(t, dir)
	assert.Equal(t, KindAllocationFailed, KindOf(err))
	assert.True(t, errors.Is(err, ErrTemporaryDirectoryExhausted))
	assert.Contains(t, err.Error(), "within 3 attempts")

	assert.ElementsMatch(t, []string{"fixed-0", "fixed-1", "fixed-2"}, dirEntries(t, fs, "/scratch"),
		"no directory is created when allocation fails")
}

func TestTempDirAllocatorDefaultRoot(t *testing.T) {
	alloc := NewTempDirAllocator(afero.NewMemMapFs(), "")
	assert.Equal(t, os.TempDir(), alloc.Root())
}

func TestTempDirAllocatorMissingRoot(t *testing.T) {
	fs := afero.NewOsFs()
	alloc := NewTempDirAllocator(fs, filepath.Join(t.TempDir(), "missing", "root"))

	_, err := alloc.Allocate()
	require.Error(t, err)
	assert.Equal(t, KindAllocationFailed, KindOf(err))
	assert.False(t, errors.Is(err, ErrTemporaryDirectoryExhausted))
}

func TestRemoveTree(t *testing.T) {
	fs := afero.NewOsFs()
	root := filepath.Join(t.TempDir(), "snapshot")
	createWorldTree(t, fs, root)
	require.NoError(t, fs.MkdirAll(filepath.Join(root, "empty", "nested"), 0755))

	require.NoError(t, RemoveTree(fs, root))

	exists, err := afero.Exists(fs, root)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, RemoveTree(fs, root), "removing a missing tree is not an error")
}
