package backup

import (
	"errors"
	"fmt"
)

// BackupErrorKind classifies where in the pipeline an error happened
type BackupErrorKind string

const (
	KindAllocationFailed    BackupErrorKind = "ALLOCATION_FAILED"
	KindStagingFailed       BackupErrorKind = "STAGING_FAILED"
	KindTraversalFailed     BackupErrorKind = "TRAVERSAL_FAILED"
	KindArchiveWriteFailed  BackupErrorKind = "ARCHIVE_WRITE_FAILED"
	KindCleanupFailed       BackupErrorKind = "CLEANUP_FAILED"
	KindRetentionScanFailed BackupErrorKind = "RETENTION_SCAN_FAILED"
	KindConfiguration       BackupErrorKind = "CONFIGURATION_ERROR"
)

var (
	// ErrTemporaryDirectoryExhausted is returned when every scratch directory
	// candidate name is already taken.
	ErrTemporaryDirectoryExhausted = errors.New("temporary directory candidates exhausted")

	// ErrEntryOpen is returned by BeginEntry while another entry is still open.
	ErrEntryOpen = errors.New("archive entry already open")

	// ErrNoEntryOpen is returned by Write and EndEntry when no entry is open.
	ErrNoEntryOpen = errors.New("no archive entry open")

	// ErrArchiveClosed is returned by any write operation after Close.
	ErrArchiveClosed = errors.New("archive already closed")
)

// BackupError is the single error type produced by the backup pipeline.
// Op names the failing operation and Path the file or directory involved.
type BackupError struct {
	Kind    BackupErrorKind `json:"kind"`
	Op      string          `json:"op,omitempty"`
	Path    string          `json:"path,omitempty"`
	Message string          `json:"message"`
	Cause   error           `json:"-"`
}

// Error implements the error interface
func (e *BackupError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Path != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Path)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *BackupError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *BackupError of the same kind, so callers
// can write errors.Is(err, &BackupError{Kind: KindStagingFailed}).
func (e *BackupError) Is(target error) bool {
	t, ok := target.(*BackupError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// NewBackupError creates a new BackupError
func NewBackupError(kind BackupErrorKind, op, path, message string, cause error) *BackupError {
	return &BackupError{
		Kind:    kind,
		Op:      op,
		Path:    path,
		Message: message,
		Cause:   cause,
	}
}

func NewAllocationError(path, message string, cause error) *BackupError {
	return NewBackupError(KindAllocationFailed, "allocate", path, message, cause)
}

func NewStagingError(op, path, message string, cause error) *BackupError {
	return NewBackupError(KindStagingFailed, op, path, message, cause)
}

func NewTraversalError(path, message string, cause error) *BackupError {
	return NewBackupError(KindTraversalFailed, "walk", path, message, cause)
}

func NewArchiveWriteError(op, path, message string, cause error) *BackupError {
	return NewBackupError(KindArchiveWriteFailed, op, path, message, cause)
}

func NewCleanupError(path, message string, cause error) *BackupError {
	return NewBackupError(KindCleanupFailed, "remove", path, message, cause)
}

func NewRetentionScanError(op, path, message string, cause error) *BackupError {
	return NewBackupError(KindRetentionScanFailed, op, path, message, cause)
}

func NewConfigurationError(message string, cause error) *BackupError {
	return NewBackupError(KindConfiguration, "configure", "", message, cause)
}

// KindOf returns the kind of the first BackupError in err's chain, or ""
func KindOf(err error) BackupErrorKind {
	var backupErr *BackupError
	if errors.As(err, &backupErr) {
		return backupErr.Kind
	}
	return ""
}

// IsFatal reports whether err aborts the owning task. Cleanup and per-entry
// retention failures are logged and the work carries on.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindCleanupFailed, KindRetentionScanFailed:
		return false
	case "":
		return err != nil
	default:
		return true
	}
}

// ValidationError represents a single invalid configuration field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, message string, value interface{}) {
	*e = append(*e, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}
