package backup

import (
	"context"
)

// World is a live, host-owned directory tree that can be backed up.
// The backup pipeline never creates or destroys worlds.
type World interface {
	// Name returns the world name used for archive naming and logging.
	Name() string

	// Root returns the directory holding the world's on-disk state.
	Root() string

	// DisableAutoPersist stops the host from writing the world to disk.
	DisableAutoPersist(ctx context.Context) error

	// EnableAutoPersist resumes the host's periodic writes.
	EnableAutoPersist(ctx context.Context) error

	// PersistNow synchronously writes the world's in-memory state to disk.
	PersistNow(ctx context.Context) error
}

// WorldSource lists the worlds that should be backed up. An empty allowlist
// selects every world the host knows about.
type WorldSource interface {
	Worlds(ctx context.Context, allowlist []string) ([]World, error)
}

// Scheduler is the execution model the pipeline runs on. Exclusive work is
// serialized with the host's own mutation of live worlds; background work may
// run concurrently with it.
type Scheduler interface {
	// CallExclusive runs fn on the exclusive lane and waits for it.
	CallExclusive(ctx context.Context, fn func(ctx context.Context) error) error

	// RunBackground runs task asynchronously in background mode.
	RunBackground(task func(ctx context.Context))
}

// Notifier receives human readable progress announcements.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}
