package backup

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// SnapshotFile is one regular file discovered under a snapshot root.
type SnapshotFile struct {
	// RelPath is relative to the snapshot root, using forward slashes.
	RelPath string
	Path    string
	ModTime time.Time
	Size    int64
}

// WalkSnapshot visits every regular file under root depth-first and calls fn
// for each. Directories are not reported; symbolic links and special files
// are skipped. Any failure to list a directory or stat an entry aborts the
// walk with a TRAVERSAL_FAILED error. Errors returned by fn are passed
// through unchanged.
func WalkSnapshot(fs afero.Fs, root string, fn func(SnapshotFile) error) error {
	return afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return NewTraversalError(path, "failed to read directory entry", err)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return NewTraversalError(path, "failed to resolve relative path", err)
		}

		return fn(SnapshotFile{
			RelPath: filepath.ToSlash(rel),
			Path:    path,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		})
	})
}

// ArchiveStats summarizes one ArchiveTree call.
type ArchiveStats struct {
	Files int
	Bytes int64
}

// ArchiveTree writes every regular file under root into aw as one entry,
// named by its path relative to root and stamped with its source
// modification time.
func ArchiveTree(fs afero.Fs, root string, aw *ArchiveWriter) (ArchiveStats, error) {
	var stats ArchiveStats
	buf := make([]byte, copyBufferSize)

	err := WalkSnapshot(fs, root, func(file SnapshotFile) error {
		n, err := archiveFile(fs, file, aw, buf)
		if err != nil {
			return err
		}
		stats.Files++
		stats.Bytes += n
		return nil
	})
	return stats, err
}

func archiveFile(fs afero.Fs, file SnapshotFile, aw *ArchiveWriter, buf []byte) (int64, error) {
	in, err := fs.Open(file.Path)
	if err != nil {
		return 0, NewTraversalError(file.Path, "failed to open file for reading", err)
	}
	defer in.Close()

	if err := aw.BeginEntry(file.RelPath, file.ModTime); err != nil {
		return 0, err
	}

	var written int64
	for {
		n, readErr := in.Read(buf)
		if n > 0 {
			if _, err := aw.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, NewTraversalError(file.Path, "failed to read file", readErr)
		}
	}

	if err := aw.EndEntry(); err != nil {
		return written, err
	}
	return written, nil
}
