package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// TemporaryDirectoryAttempts is the number of candidate names tried before
// allocation gives up.
const TemporaryDirectoryAttempts = 10000

// TempDirAllocator creates uniquely named scratch directories under a root.
type TempDirAllocator struct {
	fs       afero.Fs
	root     string
	attempts int
	prefix   func() string
}

// AllocatorOption customizes a TempDirAllocator
type AllocatorOption func(*TempDirAllocator)

// WithAttemptLimit overrides TemporaryDirectoryAttempts.
func WithAttemptLimit(n int) AllocatorOption {
	return func(a *TempDirAllocator) {
		if n > 0 {
			a.attempts = n
		}
	}
}

// WithNamePrefix replaces the default candidate prefix generator.
func WithNamePrefix(prefix func() string) AllocatorOption {
	return func(a *TempDirAllocator) {
		if prefix != nil {
			a.prefix = prefix
		}
	}
}

// NewTempDirAllocator creates an allocator rooted at root. An empty root
// means the operating system's temporary directory.
func NewTempDirAllocator(fs afero.Fs, root string, opts ...AllocatorOption) *TempDirAllocator {
	if root == "" {
		root = os.TempDir()
	}
	a := &TempDirAllocator{
		fs:       fs,
		root:     root,
		attempts: TemporaryDirectoryAttempts,
		prefix:   defaultNamePrefix,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// defaultNamePrefix combines a nanosecond timestamp with random bits so that
// tasks started in the same instant still pick distinct names.
func defaultNamePrefix() string {
	return fmt.Sprintf("archivist-%d-%s-", time.Now().UnixNano(), uuid.New().String()[:8])
}

// Root returns the directory scratch directories are created under.
func (a *TempDirAllocator) Root() string {
	return a.root
}

// Allocate creates and returns a new empty directory. It fails with an
// ALLOCATION_FAILED error wrapping ErrTemporaryDirectoryExhausted when every
// candidate already exists; no directory is created in that case.
func (a *TempDirAllocator) Allocate() (string, error) {
	base := a.prefix()
	for counter := 0; counter < a.attempts; counter++ {
		candidate := filepath.Join(a.root, base+strconv.Itoa(counter))

		exists, err := afero.Exists(a.fs, candidate)
		if err != nil {
			return "", NewAllocationError(candidate, "failed to check scratch directory", err)
		}
		if exists {
			continue
		}

		// Mkdir fails with ErrExist if another caller won the race for this name.
		if err := a.fs.Mkdir(candidate, 0700); err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return "", NewAllocationError(candidate, "failed to create scratch directory", err)
		}
		return candidate, nil
	}

	return "", NewAllocationError(a.root,
		fmt.Sprintf("failed to create directory within %d attempts (tried %s0 to %s%d)", a.attempts, base, base, a.attempts-1),
		ErrTemporaryDirectoryExhausted)
}

// RemoveTree deletes dir recursively: every child first, then dir itself.
// A missing dir is not an error.
func RemoveTree(fs afero.Fs, dir string) error {
	children, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return NewCleanupError(dir, "failed to list directory", err)
	}

	for _, child := range children {
		path := filepath.Join(dir, child.Name())
		if err := fs.RemoveAll(path); err != nil {
			return NewCleanupError(path, "failed to delete", err)
		}
	}

	if err := fs.Remove(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return NewCleanupError(dir, "failed to delete directory", err)
	}
	return nil
}
