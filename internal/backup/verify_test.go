package backup

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeArchiveFile(t *testing.T, fs afero.Fs, path string, method CompressionMethod, entries []testEntry) {
	t.Helper()
	file, err := fs.Create(path)
	require.NoError(t, err)
	opts := DefaultArchiveOptions()
	opts.Method = method
	aw := NewArchiveWriter(file, path, opts, testLogger())
	writeEntries(t, aw, entries)
	require.NoError(t, aw.Close())
}

func TestVerifyArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Now()
	entries := []testEntry{
		{"level.dat", []byte("level data"), now},
		{"region/r.0.0.mca", bytes.Repeat([]byte{1, 2, 3}, 1000), now},
	}

	for _, method := range []CompressionMethod{CompressionMethodDeflate, CompressionMethodZstd} {
		t.Run(string(method), func(t *testing.T) {
			path := "/archives/world_" + string(method) + ".zip"
			require.NoError(t, fs.MkdirAll("/archives", 0755))
			writeArchiveFile(t, fs, path, method, entries)

			result, err := VerifyArchive(fs, path)
			require.NoError(t, err)
			assert.Equal(t, path, result.Path)
			assert.Equal(t, 2, result.Entries)
			assert.Equal(t, int64(10+3000), result.UncompressedBytes)

			info, err := fs.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), result.CompressedBytes)
		})
	}
}

func TestCreateArchiveZstdVerifies(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := createWorldTree(t, fs, "/snap")

	opts := DefaultArchiveOptions()
	opts.Method = CompressionMethodZstd
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	aw, path, err := CreateArchive(fs, "/archives", "creative", at, opts, testLogger())
	require.NoError(t, err)
	_, err = ArchiveTree(fs, "/snap", aw)
	require.NoError(t, err)
	require.NoError(t, aw.Close())

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	entries := readArchive(t, data)
	require.Len(t, entries, len(files))
	var total int64
	for rel, want := range files {
		require.Contains(t, entries, rel)
		assert.Equal(t, uint16(zstd.ZipMethodWinZip), entries[rel].Method, "%s is zstd compressed", rel)
		assert.Equal(t, want, readEntry(t, entries[rel]))
		total += int64(len(want))
	}

	result, err := VerifyArchive(fs, path)
	require.NoError(t, err)
	assert.Equal(t, len(files), result.Entries)
	assert.Equal(t, total, result.UncompressedBytes)
	assert.Equal(t, int64(len(data)), result.CompressedBytes)
}

func TestVerifyArchiveDetectsCorruption(t *testing.T) {
	fs := afero.NewOsFs()
	path := filepath.Join(t.TempDir(), "world_2024-01-01T00-00-00.zip")
	payload := []byte("unique-payload-0123456789")
	writeArchiveFile(t, fs, path, CompressionMethodStore, []testEntry{{"level.dat", payload, time.Now()}})

	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	idx := bytes.Index(data, payload)
	require.GreaterOrEqual(t, idx, 0, "stored entries keep their bytes verbatim")
	data[idx] ^= 0xFF
	require.NoError(t, afero.WriteFile(fs, path, data, 0644))

	_, err = VerifyArchive(fs, path)
	require.Error(t, err)
	assert.Equal(t, KindArchiveWriteFailed, KindOf(err))
	assert.Contains(t, err.Error(), "entry level.dat is corrupt")
}

func TestVerifyArchiveRejectsNonArchives(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/notes.zip", []byte("not a zip"), 0644))

	_, err := VerifyArchive(fs, "/notes.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a readable archive")

	_, err = VerifyArchive(fs, "/missing.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open archive")
}
