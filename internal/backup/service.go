package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/spf13/afero"

	"world-archivist/internal/logging"
)

// Settings are the values that may change while the service is running.
type Settings struct {
	MaxAge       time.Duration
	Allowlist    []string
	StartMessage string
	EndMessage   string
}

// ServiceConfig wires a Service. Runner and Cleaner are built from the other
// fields when left nil.
type ServiceConfig struct {
	Fs        afero.Fs
	Worlds    WorldSource
	Scheduler Scheduler
	Runner    *TaskRunner
	Cleaner   *RetentionCleaner
	OutputDir string
	TempRoot  string
	Options   ArchiveOptions
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   *Metrics
	Settings  Settings
}

// Service runs backups of every selected world and retention passes over
// the shared backup folder.
type Service struct {
	fs        afero.Fs
	worlds    WorldSource
	scheduler Scheduler
	runner    *TaskRunner
	cleaner   *RetentionCleaner
	outputDir string
	notifier  Notifier
	clock     clock.Clock
	logger    *logging.Logger

	mu       sync.RWMutex
	settings Settings
}

// NewService creates a backup service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewDefaultLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Runner == nil {
		cfg.Runner = NewTaskRunner(TaskRunnerConfig{
			Fs:        cfg.Fs,
			Allocator: NewTempDirAllocator(cfg.Fs, cfg.TempRoot),
			Stager:    NewStager(cfg.Fs, cfg.Scheduler, cfg.Logger),
			OutputDir: cfg.OutputDir,
			Options:   cfg.Options,
			Clock:     cfg.Clock,
			Logger:    cfg.Logger,
			Metrics:   cfg.Metrics,
		})
	}
	if cfg.Cleaner == nil {
		cfg.Cleaner = NewRetentionCleaner(cfg.Fs, cfg.OutputDir, cfg.Logger, cfg.Metrics)
	}

	return &Service{
		fs:        cfg.Fs,
		worlds:    cfg.Worlds,
		scheduler: cfg.Scheduler,
		runner:    cfg.Runner,
		cleaner:   cfg.Cleaner,
		outputDir: cfg.OutputDir,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		settings:  copySettings(cfg.Settings),
	}
}

// Settings returns a copy of the current settings.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySettings(s.settings)
}

// Reconfigure replaces the settings. Runs already started keep the
// messages they were started with.
func (s *Service) Reconfigure(settings Settings) {
	s.mu.Lock()
	s.settings = copySettings(settings)
	s.mu.Unlock()

	s.logger.WithFields(map[string]interface{}{
		"max_age":   settings.MaxAge.String(),
		"allowlist": settings.Allowlist,
	}).Info("Backup settings updated")
}

func copySettings(in Settings) Settings {
	out := in
	out.Allowlist = append([]string(nil), in.Allowlist...)
	return out
}

// Run tracks the world tasks started by one BackUpWorlds call.
type Run struct {
	ID     string
	Worlds []string

	done    chan struct{}
	mu      sync.Mutex
	results []*TaskResult
}

func newRun(worlds []string) *Run {
	return &Run{
		ID:     uuid.NewString(),
		Worlds: worlds,
		done:   make(chan struct{}),
	}
}

func (r *Run) add(result *TaskResult) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

// Done is closed once every world task of the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends. Results are ordered by
// world name.
func (r *Run) Wait(ctx context.Context) ([]*TaskResult, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	results := append([]*TaskResult(nil), r.results...)
	sort.Slice(results, func(i, j int) bool {
		return results[i].World < results[j].World
	})
	return results, nil
}

// BackUpWorlds starts one background backup task per selected world and
// returns immediately. names overrides the configured allowlist when
// non-empty. The start message is announced before any task is scheduled
// and the end message after the last task finishes. A failing world never
// affects the others.
func (s *Service) BackUpWorlds(ctx context.Context, names ...string) (*Run, error) {
	settings := s.Settings()
	allowlist := settings.Allowlist
	if len(names) > 0 {
		allowlist = names
	}

	worlds, err := s.worlds.Worlds(ctx, allowlist)
	if err != nil {
		return nil, NewConfigurationError("failed to discover worlds", err)
	}

	worldNames := make([]string, 0, len(worlds))
	for _, w := range worlds {
		worldNames = append(worldNames, w.Name())
	}
	run := newRun(worldNames)

	s.logger.WithFields(map[string]interface{}{
		"run_id": run.ID,
		"worlds": worldNames,
	}).Info("Starting backup run")
	s.announce(ctx, settings.StartMessage)

	if len(worlds) == 0 {
		s.logger.Warn("No worlds selected for backup")
		s.announce(ctx, settings.EndMessage)
		close(run.done)
		return run, nil
	}

	var wg sync.WaitGroup
	wg.Add(len(worlds))
	for _, w := range worlds {
		world := w
		s.scheduler.RunBackground(func(taskCtx context.Context) {
			defer wg.Done()
			taskCtx = logging.CreateContextWithRunID(taskCtx, run.ID)
			run.add(s.runner.Run(taskCtx, world))
		})
	}

	go func() {
		wg.Wait()
		s.announce(context.Background(), settings.EndMessage)
		close(run.done)
	}()

	return run, nil
}

// CleanOldBackups runs one retention pass with the current maximum age.
func (s *Service) CleanOldBackups(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	maxAge := s.Settings().MaxAge
	done := s.logger.LogOperationStart("retention", map[string]interface{}{
		"folder":  s.outputDir,
		"max_age": maxAge.String(),
		"dry_run": dryRun,
	})
	result, err := s.cleaner.Clean(ctx, maxAge, s.clock.Now(), dryRun)
	done(err)
	if err != nil {
		return result, err
	}

	s.logger.WithFields(map[string]interface{}{
		"scanned": result.EntriesScanned,
		"deleted": len(result.Deleted),
		"kept":    result.Kept,
		"errors":  len(result.Errors),
		"dry_run": dryRun,
	}).Debug("Retention pass finished")
	return result, nil
}

// ArchiveInfo describes one archive in the backup folder.
type ArchiveInfo struct {
	World      string    `json:"world" yaml:"world"`
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	CapturedAt time.Time `json:"captured_at" yaml:"captured_at"`
	ModTime    time.Time `json:"mod_time" yaml:"mod_time"`
	Size       int64     `json:"size" yaml:"size"`
}

// ListBackups lists archives in the backup folder, newest first. Files whose
// names do not follow the archive naming scheme are ignored. An empty world
// lists every world.
func (s *Service) ListBackups(world string) ([]ArchiveInfo, error) {
	entries, err := afero.ReadDir(s.fs, s.outputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []ArchiveInfo{}, nil
		}
		return nil, NewRetentionScanError("list", s.outputDir, "failed to list backup folder", err)
	}

	archives := []ArchiveInfo{}
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		worldName, capturedAt, ok := ParseArchiveName(entry.Name())
		if !ok {
			continue
		}
		if world != "" && worldName != world {
			continue
		}
		archives = append(archives, ArchiveInfo{
			World:      worldName,
			Name:       entry.Name(),
			Path:       filepath.Join(s.outputDir, entry.Name()),
			CapturedAt: capturedAt,
			ModTime:    entry.ModTime(),
			Size:       entry.Size(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		if !archives[i].CapturedAt.Equal(archives[j].CapturedAt) {
			return archives[i].CapturedAt.After(archives[j].CapturedAt)
		}
		return archives[i].Name < archives[j].Name
	})
	return archives, nil
}

func (s *Service) announce(ctx context.Context, message string) {
	if message == "" || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, message); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"message": message,
			"error":   err.Error(),
		}).Warn("Failed to deliver announcement")
	}
}
