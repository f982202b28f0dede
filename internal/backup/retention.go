package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"world-archivist/internal/logging"
)

// RetentionEntry is one backup directory entry considered by a cleanup pass.
type RetentionEntry struct {
	Name    string    `json:"name" yaml:"name"`
	Path    string    `json:"path" yaml:"path"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	Size    int64     `json:"size" yaml:"size"`
}

// RetentionResult represents the result of one retention pass
type RetentionResult struct {
	Cutoff         time.Time        `json:"cutoff" yaml:"cutoff"`
	EntriesScanned int              `json:"entries_scanned" yaml:"entries_scanned"`
	Deleted        []RetentionEntry `json:"deleted" yaml:"deleted"`
	Kept           int              `json:"kept" yaml:"kept"`
	Errors         []string         `json:"errors" yaml:"errors"`
	ProcessingTime time.Duration    `json:"processing_time" yaml:"processing_time"`
	DryRun         bool             `json:"dry_run" yaml:"dry_run"`
}

// RetentionCleaner deletes entries of the backup folder whose modification
// time is older than a maximum age. It shares nothing with running backup
// tasks except the folder itself.
type RetentionCleaner struct {
	fs      afero.Fs
	dir     string
	logger  *logging.Logger
	metrics *Metrics
}

// NewRetentionCleaner creates a cleaner for dir.
func NewRetentionCleaner(fs afero.Fs, dir string, logger *logging.Logger, metrics *Metrics) *RetentionCleaner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionCleaner{
		fs:      fs,
		dir:     dir,
		logger:  logger,
		metrics: metrics,
	}
}

// Clean deletes every direct child of the backup folder for which
// now - maxAge is strictly after its modification time. An entry exactly at
// the cutoff is kept. Entries that cannot be inspected or deleted are logged
// and skipped. The returned error is non-nil only when the folder itself
// cannot be listed or ctx is cancelled; a missing folder holds no backups.
func (c *RetentionCleaner) Clean(ctx context.Context, maxAge time.Duration, now time.Time, dryRun bool) (*RetentionResult, error) {
	started := time.Now()
	cutoff := now.Add(-maxAge)
	result := &RetentionResult{
		Cutoff:  cutoff,
		Deleted: []RetentionEntry{},
		Errors:  []string{},
		DryRun:  dryRun,
	}
	defer func() {
		result.ProcessingTime = time.Since(started)
		if !dryRun {
			c.metrics.observeRetention(len(result.Deleted), len(result.Errors))
		}
	}()

	names, err := c.readNames()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return result, NewRetentionScanError("list", c.dir, "failed to list backup folder", err)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.EntriesScanned++

		entryPath := filepath.Join(c.dir, name)
		info, err := c.fs.Stat(entryPath)
		if err != nil {
			c.skip(result, NewRetentionScanError("stat", entryPath, "failed to read modification time", err))
			continue
		}

		if !cutoff.After(info.ModTime()) {
			result.Kept++
			continue
		}

		entry := RetentionEntry{
			Name:    name,
			Path:    entryPath,
			ModTime: info.ModTime(),
			Size:    info.Size(),
		}
		if !dryRun {
			if err := c.fs.Remove(entryPath); err != nil {
				c.skip(result, NewRetentionScanError("remove", entryPath, "failed to delete expired backup", err))
				continue
			}
		}

		result.Deleted = append(result.Deleted, entry)
		msg := "Deleted expired backup"
		if dryRun {
			msg = "Would delete expired backup"
		}
		c.logger.WithFields(map[string]interface{}{
			"backup":   name,
			"modified": entry.ModTime.Format(time.RFC3339),
			"cutoff":   cutoff.Format(time.RFC3339),
		}).Info(msg)
	}

	return result, nil
}

func (c *RetentionCleaner) readNames() ([]string, error) {
	dir, err := c.fs.Open(c.dir)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	return dir.Readdirnames(-1)
}

func (c *RetentionCleaner) skip(result *RetentionResult, err *BackupError) {
	result.Errors = append(result.Errors, err.Error())
	c.logger.WithFields(map[string]interface{}{
		"path":  err.Path,
		"op":    err.Op,
		"error": err.Error(),
	}).Warn("Skipping backup folder entry")
}
