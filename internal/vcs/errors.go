package vcs

import (
	"errors"
	"fmt"
)

// Common errors returned by connectors.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrNotInVCS) {
//	    // Handle case where we're outside any working copy
//	}
var (
	// ErrNotInVCS is returned when the operation requires being inside
	// a working copy but none was found.
	ErrNotInVCS = errors.New("not in a VCS repository")

	// ErrVCSNotAvailable is returned when the required VCS binary
	// is not installed, not in PATH, or too old.
	ErrVCSNotAvailable = errors.New("VCS binary not available")

	// ErrUnknownBackend is returned when no connector is registered
	// for the requested type.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrNoRemote is returned when an operation requires a remote
	// but none is configured.
	ErrNoRemote = errors.New("no remote configured")

	// ErrConflicts is returned when an operation cannot complete
	// due to unresolved conflicts.
	ErrConflicts = errors.New("unresolved conflicts")

	// ErrNotSupported is returned when an operation is not supported
	// by the current backend.
	ErrNotSupported = errors.New("operation not supported by this VCS")

	// ErrNotVersioned is returned for operations that need a versioned
	// path, such as setting a property on an unversioned file.
	ErrNotVersioned = errors.New("path is not under version control")

	// ErrPathNotFound is returned when a path exists neither on disk
	// nor in the backend.
	ErrPathNotFound = errors.New("path not found")

	// ErrRevisionNotFound is returned when a revision cannot be resolved.
	ErrRevisionNotFound = errors.New("revision not found")

	// ErrPushRejected is returned when a push is rejected by the remote,
	// typically due to non-fast-forward updates.
	ErrPushRejected = errors.New("push rejected by remote")

	// ErrOutOfDate is returned when a commit is based on a stale
	// revision of a path.
	ErrOutOfDate = errors.New("path is out of date")

	// ErrTimeout is returned when a VCS operation exceeds its timeout.
	ErrTimeout = errors.New("operation timed out")
)

// ConflictError is returned when the backend reports an unresolved
// conflict on a specific path. It matches ErrConflicts with errors.Is.
type ConflictError struct {
	// Path is the conflicting path, relative to the working copy root
	Path string

	// Detail is the backend's description of the conflict
	Detail string
}

func (e *ConflictError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("conflict on %s", e.Path)
	}
	return fmt.Sprintf("conflict on %s: %s", e.Path, e.Detail)
}

// Is makes errors.Is(err, ErrConflicts) hold for conflict errors
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflicts
}

// IsRetryable returns true if the error is likely to succeed on retry.
// This is useful for transient network errors or temporary lock conflicts.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Timeouts are often transient
	if errors.Is(err, ErrTimeout) {
		return true
	}

	// Push rejections might succeed after an update
	if errors.Is(err, ErrPushRejected) {
		return true
	}

	return errors.Is(err, ErrOutOfDate)
}

// IsUserActionRequired returns true if the error requires user intervention
// to resolve (conflicts, stale paths, etc).
func IsUserActionRequired(err error) bool {
	if err == nil {
		return false
	}

	// Conflicts need manual resolution
	if errors.Is(err, ErrConflicts) {
		return true
	}

	// Push rejected usually means divergent remote
	return errors.Is(err, ErrPushRejected)
}

// IsFatal returns true if the error indicates a non-recoverable state
// that requires manual intervention or re-initialization.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	// Not in VCS means we can't do anything
	if errors.Is(err, ErrNotInVCS) {
		return true
	}

	// Binary not available means we can't execute commands
	return errors.Is(err, ErrVCSNotAvailable)
}
