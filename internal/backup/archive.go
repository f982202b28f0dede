package backup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"world-archivist/internal/logging"
)

// ArchiveExtension is the file extension of produced archives.
const ArchiveExtension = "zip"

// ArchiveOptions configures the output stream of a new archive.
type ArchiveOptions struct {
	Level      CompressionLevel
	Method     CompressionMethod
	Checksum   ChecksumAlgorithm
	BufferSize int
}

// DefaultArchiveOptions returns DEFLATE at the default level with an
// Adler-32 stream checksum and a 4 KiB output buffer.
func DefaultArchiveOptions() ArchiveOptions {
	return ArchiveOptions{
		Level:      CompressionLevelDefault,
		Method:     CompressionMethodDeflate,
		Checksum:   ChecksumAdler32,
		BufferSize: copyBufferSize,
	}
}

// ArchiveWriter writes a ZIP container one entry at a time. The byte stream
// is layered, innermost first: sink, checksum, buffer, ZIP encoder.
//
// At most one entry is open at a time. The ZIP encoder writes an entry's
// data descriptor when the next entry begins or when the archive closes.
type ArchiveWriter struct {
	name    string
	sink    io.WriteCloser
	checked *checkedWriter
	buf     *bufio.Writer
	zw      *zip.Writer
	method  CompressionMethod
	logger  *logging.Logger

	entry     io.Writer
	entryName string
	entries   int
	closed    bool
}

// NewArchiveWriter wraps sink. name is only used in errors and logs.
func NewArchiveWriter(sink io.WriteCloser, name string, opts ArchiveOptions, logger *logging.Logger) *ArchiveWriter {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = copyBufferSize
	}
	if opts.Method == "" {
		opts.Method = CompressionMethodDeflate
	}

	checked := newCheckedWriter(sink, opts.Checksum)
	buf := bufio.NewWriterSize(checked, opts.BufferSize)
	zw := zip.NewWriter(buf)
	registerCompressor(zw, opts.Method, opts.Level)

	return &ArchiveWriter{
		name:    name,
		sink:    sink,
		checked: checked,
		buf:     buf,
		zw:      zw,
		method:  opts.Method,
		logger:  logger,
	}
}

// CreateArchive opens a new archive file in dir, creating dir if needed.
// An existing file with the same name is never overwritten.
func CreateArchive(fs afero.Fs, dir, worldName string, at time.Time, opts ArchiveOptions, logger *logging.Logger) (*ArchiveWriter, string, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, "", NewArchiveWriteError("mkdir", dir, "failed to create backup folder", err)
	}

	archivePath := filepath.Join(dir, ArchiveName(worldName, at))
	file, err := fs.OpenFile(archivePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, "", NewArchiveWriteError("open", archivePath, "failed to open archive for writing", err)
	}

	return NewArchiveWriter(file, archivePath, opts, logger), archivePath, nil
}

// BeginEntry starts a new entry. name must be a relative path; it is stored
// with forward slashes. modTime is stored in the container's native
// two-second resolution as well as the extended timestamp field.
func (a *ArchiveWriter) BeginEntry(name string, modTime time.Time) error {
	if a.closed {
		return NewArchiveWriteError("begin_entry", name, "cannot add entry", ErrArchiveClosed)
	}
	if a.entry != nil {
		return NewArchiveWriteError("begin_entry", name, fmt.Sprintf("entry %s is still open", a.entryName), ErrEntryOpen)
	}

	entryName, err := normalizeEntryName(name)
	if err != nil {
		return NewArchiveWriteError("begin_entry", name, "invalid entry name", err)
	}

	header := &zip.FileHeader{
		Name:     entryName,
		Method:   a.method.zipMethod(),
		Modified: modTime,
	}
	w, err := a.zw.CreateHeader(header)
	if err != nil {
		return NewArchiveWriteError("begin_entry", entryName, "failed to write entry header", err)
	}

	a.entry = w
	a.entryName = entryName
	return nil
}

// Write streams p into the open entry.
func (a *ArchiveWriter) Write(p []byte) (int, error) {
	if a.closed {
		return 0, NewArchiveWriteError("write", a.name, "cannot write", ErrArchiveClosed)
	}
	if a.entry == nil {
		return 0, NewArchiveWriteError("write", a.name, "cannot write", ErrNoEntryOpen)
	}

	n, err := a.entry.Write(p)
	if err != nil {
		return n, NewArchiveWriteError("write", a.entryName, "failed to write entry data", err)
	}
	return n, nil
}

// EndEntry marks the open entry as finished.
func (a *ArchiveWriter) EndEntry() error {
	if a.entry == nil {
		return NewArchiveWriteError("end_entry", a.name, "cannot end entry", ErrNoEntryOpen)
	}

	a.entry = nil
	a.entryName = ""
	a.entries++
	return nil
}

// Close finishes the container and closes the sink. An entry left open by an
// earlier failure is closed first. Only the first call does any work; later
// calls return nil.
func (a *ArchiveWriter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.entry != nil {
		a.logger.WithFields(map[string]interface{}{
			"archive": a.name,
			"entry":   a.entryName,
		}).Debug("Closing archive with an open entry")
		a.entry = nil
	}

	var err error
	if zipErr := a.zw.Close(); zipErr != nil {
		err = multierr.Append(err, fmt.Errorf("finish container: %w", zipErr))
	}
	if flushErr := a.buf.Flush(); flushErr != nil {
		err = multierr.Append(err, fmt.Errorf("flush buffer: %w", flushErr))
	}
	if closeErr := a.sink.Close(); closeErr != nil {
		err = multierr.Append(err, fmt.Errorf("close file: %w", closeErr))
	}

	if err != nil {
		return NewArchiveWriteError("close", a.name, "failed to close archive", err)
	}
	return nil
}

// Checksum returns the hex checksum of all bytes written to the sink.
func (a *ArchiveWriter) Checksum() string {
	return a.checked.Sum()
}

// Size returns the number of bytes written to the sink.
func (a *ArchiveWriter) Size() int64 {
	return a.checked.written
}

// Entries returns the number of completed entries.
func (a *ArchiveWriter) Entries() int {
	return a.entries
}

// Name returns the archive's path.
func (a *ArchiveWriter) Name() string {
	return a.name
}

func normalizeEntryName(name string) (string, error) {
	slashed := path.Clean(filepath.ToSlash(name))
	switch {
	case name == "", slashed == ".":
		return "", fmt.Errorf("empty entry name")
	case strings.HasPrefix(slashed, "/"):
		return "", fmt.Errorf("entry name %q is absolute", name)
	case slashed == "..", strings.HasPrefix(slashed, "../"):
		return "", fmt.Errorf("entry name %q escapes the archive root", name)
	}
	return slashed, nil
}
