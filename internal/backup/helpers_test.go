package backup

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"world-archivist/internal/logging"
)

// mockWorld is a testify mock of World rooted at a fixed directory.
type mockWorld struct {
	mock.Mock
	name string
	root string
}

func newMockWorld(name, root string) *mockWorld {
	return &mockWorld{name: name, root: root}
}

func (w *mockWorld) Name() string { return w.name }
func (w *mockWorld) Root() string { return w.root }

func (w *mockWorld) DisableAutoPersist(ctx context.Context) error {
	return w.Called(ctx).Error(0)
}

func (w *mockWorld) EnableAutoPersist(ctx context.Context) error {
	return w.Called(ctx).Error(0)
}

func (w *mockWorld) PersistNow(ctx context.Context) error {
	return w.Called(ctx).Error(0)
}

// dirWorld is a World whose host calls always succeed.
type dirWorld struct {
	name string
	root string
}

func (w *dirWorld) Name() string { return w.name }
func (w *dirWorld) Root() string { return w.root }
func (w *dirWorld) DisableAutoPersist(ctx context.Context) error { return nil }
func (w *dirWorld) EnableAutoPersist(ctx context.Context) error { return nil }
func (w *dirWorld) PersistNow(ctx context.Context) error { return nil }

// inlineScheduler runs exclusive calls on the caller's goroutine and
// background tasks on new goroutines.
type inlineScheduler struct {
	wg sync.WaitGroup
}

func (s *inlineScheduler) CallExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *inlineScheduler) RunBackground(task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		task(context.Background())
	}()
}

// bufferSink is an in-memory archive sink.
type bufferSink struct {
	bytes.Buffer
	closed int
}

func (b *bufferSink) Close() error {
	b.closed++
	return nil
}

func testLogger() *logging.Logger {
	return logging.NewNopLogger()
}

// writeFile creates path with data and mtime, creating parent directories.
func writeFile(t *testing.T, fs afero.Fs, path string, data []byte, mtime time.Time) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

// worldTreeModTimes are the modification times createWorldTree gives each
// file. They differ so that a mix-up between files shows.
var worldTreeModTimes = map[string]time.Time{
	"level.dat":        time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC),
	"region/r.0.0.mca": time.Date(2024, 4, 28, 8, 15, 42, 0, time.UTC),
}

// createWorldTree lays out a small world with a marker file and a region
// file in a subdirectory.
func createWorldTree(t *testing.T, fs afero.Fs, root string) map[string][]byte {
	t.Helper()
	files := map[string][]byte{
		"level.dat":        []byte("level data"),
		"region/r.0.0.mca": bytes.Repeat([]byte{0xA5, 0x5A}, 4096),
	}
	for rel, data := range files {
		writeFile(t, fs, filepath.Join(root, filepath.FromSlash(rel)), data, worldTreeModTimes[rel])
	}
	return files
}

func dirEntries(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names
}
