package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionCleanerBoundary(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archives/world_80.zip", []byte("80"), time.Unix(80, 0))
	writeFile(t, fs, "/archives/world_81.zip", []byte("81"), time.Unix(81, 0))
	writeFile(t, fs, "/archives/world_82.zip", []byte("82"), time.Unix(82, 0))

	metrics := NewMetrics(prometheus.NewRegistry())
	cleaner := NewRetentionCleaner(fs, "/archives", testLogger(), metrics)

	result, err := cleaner.Clean(context.Background(), 20*time.Second, time.Unix(101, 0), false)
	require.NoError(t, err)

	assert.True(t, result.Cutoff.Equal(time.Unix(81, 0)))
	assert.Equal(t, 3, result.EntriesScanned)
	assert.Equal(t, 2, result.Kept)
	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "world_80.zip", result.Deleted[0].Name)
	assert.Equal(t, "/archives/world_80.zip", result.Deleted[0].Path)
	assert.Empty(t, result.Errors)
	assert.False(t, result.DryRun)

	assert.ElementsMatch(t, []string{"world_81.zip", "world_82.zip"}, dirEntries(t, fs, "/archives"),
		"an entry exactly at the cutoff is kept")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retentionDeleted))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.retentionErrors))
}

func TestRetentionCleanerDryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archives/old.zip", []byte("old"), time.Unix(10, 0))
	writeFile(t, fs, "/archives/new.zip", []byte("new"), time.Unix(100, 0))

	metrics := NewMetrics(prometheus.NewRegistry())
	cleaner := NewRetentionCleaner(fs, "/archives", testLogger(), metrics)

	result, err := cleaner.Clean(context.Background(), 50*time.Second, time.Unix(101, 0), true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "old.zip", result.Deleted[0].Name)
	assert.Equal(t, int64(3), result.Deleted[0].Size)

	assert.ElementsMatch(t, []string{"old.zip", "new.zip"}, dirEntries(t, fs, "/archives"))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.retentionDeleted), "dry runs are not counted")
}

func TestRetentionCleanerDeletesAnyEntry(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archives/notes.txt", []byte("not an archive"), time.Unix(1, 0))
	require.NoError(t, fs.Mkdir("/archives/empty-dir", 0755))
	require.NoError(t, fs.Chtimes("/archives/empty-dir", time.Unix(1, 0), time.Unix(1, 0)))

	result, err := NewRetentionCleaner(fs, "/archives", testLogger(), nil).
		Clean(context.Background(), time.Second, time.Unix(100, 0), false)
	require.NoError(t, err)
	assert.Len(t, result.Deleted, 2)
	assert.Empty(t, dirEntries(t, fs, "/archives"))
}

func TestRetentionCleanerSkipsUndeletableEntries(t *testing.T) {
	fs := afero.NewOsFs()
	dir := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)

	nested := filepath.Join(dir, "nested")
	writeFile(t, fs, filepath.Join(nested, "inner.zip"), []byte("inner"), time.Now())
	require.NoError(t, os.Chtimes(nested, old, old))
	writeFile(t, fs, filepath.Join(dir, "world_old.zip"), []byte("old"), old)

	metrics := NewMetrics(prometheus.NewRegistry())
	result, err := NewRetentionCleaner(fs, dir, testLogger(), metrics).
		Clean(context.Background(), 24*time.Hour, time.Now(), false)
	require.NoError(t, err, "per-entry failures do not fail the pass")

	require.Len(t, result.Deleted, 1)
	assert.Equal(t, "world_old.zip", result.Deleted[0].Name)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "failed to delete expired backup")
	assert.DirExists(t, nested, "non-empty directories are not removed recursively")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.retentionErrors))
}

func TestRetentionCleanerMissingFolder(t *testing.T) {
	result, err := NewRetentionCleaner(afero.NewMemMapFs(), "/nowhere", testLogger(), nil).
		Clean(context.Background(), time.Hour, time.Now(), false)
	require.NoError(t, err)
	assert.Zero(t, result.EntriesScanned)
	assert.Empty(t, result.Deleted)
}

func TestRetentionCleanerFolderIsFile(t *testing.T) {
	fs := afero.NewOsFs()
	path := filepath.Join(t.TempDir(), "archives")
	require.NoError(t, afero.WriteFile(fs, path, []byte("x"), 0644))

	_, err := NewRetentionCleaner(fs, path, testLogger(), nil).
		Clean(context.Background(), time.Hour, time.Now(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &BackupError{Kind: KindRetentionScanFailed, Op: "list"}))
}

func TestRetentionCleanerCancelled(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/archives/a.zip", []byte("a"), time.Unix(1, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRetentionCleaner(fs, "/archives", testLogger(), nil).Clean(ctx, time.Second, time.Unix(100, 0), false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a.zip"}, dirEntries(t, fs, "/archives"))
}
