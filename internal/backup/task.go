package backup

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/juju/clock"
	"github.com/spf13/afero"

	"world-archivist/internal/logging"
)

// TaskState is a position in the per-world backup state machine.
type TaskState int

const (
	StateIdle TaskState = iota
	StateTempAllocated
	StateStaged
	StateArchived
	StateCleanedUp
	StateDone
	StateErrored
)

func (s TaskState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTempAllocated:
		return "temp_allocated"
	case StateStaged:
		return "staged"
	case StateArchived:
		return "archived"
	case StateCleanedUp:
		return "cleaned_up"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Phase names the transition a task was attempting.
type Phase string

const (
	PhaseAllocate Phase = "allocate"
	PhaseStage    Phase = "stage"
	PhaseArchive  Phase = "archive"
	PhaseCleanup  Phase = "cleanup"
)

// TaskResult reports how one world's backup ended.
type TaskResult struct {
	World       string
	State       TaskState
	FailedPhase Phase
	ArchivePath string
	ArchiveSize int64
	Checksum    string
	Entries     int
	Bytes       int64
	Duration    time.Duration
	Err         error
}

// Succeeded reports whether an archive was produced. A task whose only
// failure was scratch cleanup still produced a complete archive.
func (r *TaskResult) Succeeded() bool {
	return r.Err == nil || !IsFatal(r.Err)
}

// TaskRunnerConfig holds the collaborators shared by every world task.
type TaskRunnerConfig struct {
	Fs        afero.Fs
	Allocator *TempDirAllocator
	Stager    *Stager
	OutputDir string
	Options   ArchiveOptions
	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   *Metrics
}

// TaskRunner executes the backup state machine for one world at a time.
// It holds no per-task state and may run tasks for different worlds
// concurrently.
type TaskRunner struct {
	fs        afero.Fs
	allocator *TempDirAllocator
	stager    *Stager
	outputDir string
	options   ArchiveOptions
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *Metrics
}

// NewTaskRunner creates a runner. Fs and Stager are required.
func NewTaskRunner(cfg TaskRunnerConfig) *TaskRunner {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefaultLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Allocator == nil {
		cfg.Allocator = NewTempDirAllocator(cfg.Fs, "")
	}
	return &TaskRunner{
		fs:        cfg.Fs,
		allocator: cfg.Allocator,
		stager:    cfg.Stager,
		outputDir: cfg.OutputDir,
		options:   cfg.Options,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Run backs up one world. It never returns an error: failures are logged
// and reported in the result, and the scratch directory is removed on
// every path once it has been allocated.
func (r *TaskRunner) Run(ctx context.Context, world World) *TaskResult {
	result := &TaskResult{World: world.Name(), State: StateIdle}
	start := r.clock.Now()
	defer func() {
		result.Duration = r.clock.Now().Sub(start)
		r.metrics.observeTask(result)
		r.report(ctx, result)
	}()

	if err := ctx.Err(); err != nil {
		r.fail(result, PhaseAllocate, err)
		return result
	}

	scratch, err := r.allocator.Allocate()
	if err != nil {
		r.fail(result, PhaseAllocate, err)
		return result
	}
	result.State = StateTempAllocated

	if err := r.stager.Stage(ctx, world, scratch); err != nil {
		r.fail(result, PhaseStage, err)
		r.discardScratch(world.Name(), scratch)
		return result
	}
	result.State = StateStaged

	if err := r.archive(world.Name(), scratch, result); err != nil {
		r.fail(result, PhaseArchive, err)
		r.discardScratch(world.Name(), scratch)
		return result
	}
	result.State = StateArchived

	if err := RemoveTree(r.fs, scratch); err != nil {
		r.fail(result, PhaseCleanup, err)
		return result
	}
	result.State = StateCleanedUp

	result.State = StateDone
	return result
}

func (r *TaskRunner) archive(worldName, scratch string, result *TaskResult) error {
	aw, archivePath, err := CreateArchive(r.fs, r.outputDir, worldName, r.clock.Now(), r.options, r.logger)
	if err != nil {
		return err
	}

	stats, walkErr := ArchiveTree(r.fs, scratch, aw)
	closeErr := aw.Close()

	if walkErr != nil {
		if closeErr != nil {
			r.logger.WithFields(map[string]interface{}{
				"world":   worldName,
				"archive": archivePath,
				"error":   closeErr.Error(),
			}).Warn("Failed to close archive after write failure")
		}
		r.discardArchive(worldName, archivePath)
		return walkErr
	}
	if closeErr != nil {
		r.discardArchive(worldName, archivePath)
		return closeErr
	}

	result.ArchivePath = archivePath
	result.ArchiveSize = aw.Size()
	result.Checksum = aw.Checksum()
	result.Entries = stats.Files
	result.Bytes = stats.Bytes
	return nil
}

func (r *TaskRunner) fail(result *TaskResult, phase Phase, err error) {
	result.State = StateErrored
	result.FailedPhase = phase
	result.Err = err
}

func (r *TaskRunner) discardScratch(worldName, scratch string) {
	if err := RemoveTree(r.fs, scratch); err != nil {
		r.logger.WithFields(map[string]interface{}{
			"world": worldName,
			"path":  scratch,
			"error": err.Error(),
		}).Warn("Failed to remove scratch directory")
	}
}

func (r *TaskRunner) discardArchive(worldName, archivePath string) {
	if err := r.fs.Remove(archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.WithFields(map[string]interface{}{
			"world":   worldName,
			"archive": archivePath,
			"error":   err.Error(),
		}).Warn("Failed to remove incomplete archive")
	}
}

func (r *TaskRunner) report(ctx context.Context, result *TaskResult) {
	entry := r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"world":    result.World,
		"state":    result.State.String(),
		"duration": result.Duration.String(),
	})

	if result.Err == nil {
		entry.WithFields(map[string]interface{}{
			"archive":  result.ArchivePath,
			"entries":  result.Entries,
			"bytes":    result.Bytes,
			"size":     result.ArchiveSize,
			"checksum": result.Checksum,
		}).Info("World backup completed")
		return
	}

	entry = entry.WithFields(map[string]interface{}{
		"phase": string(result.FailedPhase),
		"error": result.Err.Error(),
	})
	var backupErr *BackupError
	if errors.As(result.Err, &backupErr) && backupErr.Path != "" {
		entry = entry.WithField("path", backupErr.Path)
	}

	if IsFatal(result.Err) {
		entry.Error("World backup failed")
	} else {
		entry.WithField("archive", result.ArchivePath).Warn("World backup completed with cleanup failure")
	}
}
