package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"world-archivist/internal/logging"
)

// copyBufferSize matches the archive copy buffer.
const copyBufferSize = 0x1000

// reenableTimeout bounds re-enabling auto-persist once the task's own
// context no longer applies.
const reenableTimeout = 2 * time.Minute

// Stager produces a static copy of a live world in a scratch directory.
type Stager struct {
	fs        afero.Fs
	scheduler Scheduler
	logger    *logging.Logger
}

// NewStager creates a stager. The toggle and persist calls run on the
// scheduler's exclusive lane; the copy itself does not.
func NewStager(fs afero.Fs, scheduler Scheduler, logger *logging.Logger) *Stager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Stager{
		fs:        fs,
		scheduler: scheduler,
		logger:    logger,
	}
}

// Stage disables auto-persist, persists the world, copies its tree into dest
// and re-enables auto-persist. Auto-persist is re-enabled even when a later
// step fails, provided it was disabled in the first place.
func (s *Stager) Stage(ctx context.Context, world World, dest string) (err error) {
	root := world.Root()
	disabled := false

	err = s.scheduler.CallExclusive(ctx, func(ctx context.Context) error {
		if err := world.DisableAutoPersist(ctx); err != nil {
			return NewStagingError("disable_auto_persist", root, "failed to disable auto-persist", err)
		}
		disabled = true

		if err := world.PersistNow(ctx); err != nil {
			return NewStagingError("persist", root, "failed to persist world", err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == "" {
			err = NewStagingError("exclusive", root, "failed to run on exclusive lane", err)
		}
		if disabled {
			s.reenable(ctx, world)
		}
		return err
	}

	copyErr := CopyTree(s.fs, root, dest)

	enableErr := s.enable(ctx, world)

	if copyErr != nil {
		if enableErr != nil {
			s.logger.WithFields(map[string]interface{}{
				"world": world.Name(),
				"error": enableErr.Error(),
			}).Warn("Failed to re-enable auto-persist after failed copy")
		}
		return NewStagingError("copy", root, fmt.Sprintf("failed to copy world to %s", dest), copyErr)
	}
	if enableErr != nil {
		return NewStagingError("enable_auto_persist", root, "failed to re-enable auto-persist", enableErr)
	}
	return nil
}

// enable turns auto-persist back on. It still runs after ctx is cancelled.
func (s *Stager) enable(ctx context.Context, world World) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reenableTimeout)
	defer cancel()
	return s.scheduler.CallExclusive(ctx, func(ctx context.Context) error {
		return world.EnableAutoPersist(ctx)
	})
}

func (s *Stager) reenable(ctx context.Context, world World) {
	if err := s.enable(ctx, world); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"world": world.Name(),
			"error": err.Error(),
		}).Warn("Failed to re-enable auto-persist")
	}
}

// CopyTree copies every directory and regular file under src into dst,
// preserving relative paths, permission bits and modification times.
// Symbolic links and special files are skipped.
func CopyTree(fs afero.Fs, src, dst string) error {
	type dirTime struct {
		path    string
		modTime time.Time
	}
	var dirs []dirTime

	err := afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := fs.MkdirAll(target, info.Mode().Perm()|0700); err != nil {
				return err
			}
			dirs = append(dirs, dirTime{path: target, modTime: info.ModTime()})
			return nil
		case info.Mode().IsRegular():
			return copyFile(fs, path, target, info)
		default:
			return nil
		}
	})
	if err != nil {
		return err
	}

	// Children were written after their parents, so parent times are restored last.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := fs.Chtimes(dirs[i].path, dirs[i].modTime, dirs[i].modTime); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(fs afero.Fs, src, dst string, info os.FileInfo) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	// Times are set after Close since some filesystems touch them on close.
	return fs.Chtimes(dst, info.ModTime(), info.ModTime())
}
