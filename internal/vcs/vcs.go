// Package vcs defines the backend connector contract used by the
// reconciliation core.
//
// A Connector talks to a version-control backend on behalf of a single
// working copy. The core never implements a connector itself: it consumes
// one, so the same reconciliation logic runs against git
// (internal/vcs/git) or the in-memory backend used by tests
// (internal/vcs/vcstest).
//
// # Paths
//
// Every path handed to a Connector is relative to the working copy root
// and uses forward slashes. The empty string and "." both name the root.
//
// # Usage
//
//	conn, err := vcs.Open(".", vcs.Options{})
//	if err != nil {
//	    return err
//	}
//	statuses, err := conn.Status(ctx, "docs", vcs.DepthInfinity)
//
// # Implementations
//
//   - internal/vcs/git: exec-based mutations, go-git based reads
//   - internal/vcs/vcstest: in-memory repository over a billy filesystem
package vcs

import (
	"context"
	"io"
)

// Type represents the backend type
type Type string

const (
	// TypeGit indicates a git working copy
	TypeGit Type = "git"

	// TypeMemory indicates the in-memory test backend
	TypeMemory Type = "memory"
)

// String returns the string representation of the backend type
func (t Type) String() string {
	return string(t)
}

// Connector defines the backend operations the reconciliation core needs.
//
// Mutating calls accept a NotifyFunc that receives per-path notifications
// as the backend works. A nil NotifyFunc is allowed. Calls that hit an
// unresolved conflict return a *ConflictError; everything else is a
// generic backend error.
type Connector interface {
	// ===================
	// Identity
	// ===================

	// Name returns the backend type
	Name() Type

	// Root returns the absolute working copy root
	Root() string

	// ===================
	// Status
	// ===================

	// Status reports the local state of path and, depending on depth,
	// its descendants. Unversioned and ignored entries are included.
	Status(ctx context.Context, path string, depth Depth) ([]EntryStatus, error)

	// ===================
	// Working copy mutations
	// ===================

	// Revert discards local modifications of path. With recursive set,
	// descendants are reverted too.
	Revert(ctx context.Context, path string, recursive bool, notify NotifyFunc) error

	// Update brings paths to rev. Conflicts are reported through notify
	// with ContentState or PropState set to StatusConflicted; the call
	// itself only fails on transport or working copy errors.
	Update(ctx context.Context, paths []string, rev Revision, opts UpdateOptions, notify NotifyFunc) (Revision, error)

	// Commit sends local changes under paths to the backend.
	// Post-commit errors do not fail the call: they are returned in
	// CommitResult.PostCommitErrors.
	Commit(ctx context.Context, paths []string, message string, opts CommitOptions, notify NotifyFunc) (CommitResult, error)

	// Delete schedules path for deletion and removes it from disk.
	// Unversioned paths are only removed from disk.
	Delete(ctx context.Context, path string, notify NotifyFunc) error

	// ===================
	// Merge
	// ===================

	// MergeStatus reports, without touching the working copy, what
	// merging req into path would change.
	MergeStatus(ctx context.Context, req MergeRequest, path string, opts MergeOptions, emit func(MergeStatus)) error

	// Merge applies req to path in the working copy.
	Merge(ctx context.Context, req MergeRequest, path string, opts MergeOptions, notify NotifyFunc) error

	// ===================
	// Properties
	// ===================

	// GetProperties returns the versioned properties of path.
	// Backends without property support return ErrNotSupported.
	GetProperties(ctx context.Context, path string) ([]Property, error)

	// SetProperty sets a versioned property on path
	SetProperty(ctx context.Context, path, name string, value []byte) error

	// RemoveProperty removes a versioned property from path
	RemoveProperty(ctx context.Context, path, name string) error

	// ===================
	// Content
	// ===================

	// Cat streams the content of a file at a given revision.
	// The caller must close the returned reader.
	Cat(ctx context.Context, ref EntryRef) (io.ReadCloser, error)
}

// ===================
// Supporting Types
// ===================

// NodeKind is the kind of a node in the working copy or the repository
type NodeKind int

const (
	// KindNone means the node does not exist
	KindNone NodeKind = iota

	// KindFile is a regular file
	KindFile

	// KindDir is a folder
	KindDir

	// KindUnknown is reported for tree conflicts where the backend
	// cannot tell the kind of the incoming node
	KindUnknown
)

func (k NodeKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name
func (k NodeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Depth limits how far an operation descends below its target
type Depth int

const (
	// DepthEmpty touches the target only
	DepthEmpty Depth = iota

	// DepthImmediates touches the target and its direct children
	DepthImmediates

	// DepthInfinity touches the whole subtree
	DepthInfinity
)

func (d Depth) String() string {
	switch d {
	case DepthEmpty:
		return "empty"
	case DepthImmediates:
		return "immediates"
	default:
		return "infinity"
	}
}

// Revision identifies a point in repository history. Backends decide
// the format (a decimal number, a commit hash, a ref name).
type Revision string

// RevisionHead is the latest revision of the backend
const RevisionHead Revision = "HEAD"

// IsHead reports whether r refers to the latest revision
func (r Revision) IsHead() bool {
	return r == "" || r == RevisionHead
}

func (r Revision) String() string {
	if r == "" {
		return string(RevisionHead)
	}
	return string(r)
}

// RevisionRange is an interval of revisions (From exclusive, To inclusive)
type RevisionRange struct {
	From Revision
	To   Revision
}

// IsSingle reports whether the range names a single changeset
func (r RevisionRange) IsSingle() bool {
	return r.From == r.To
}

// EntryRef addresses a repository path at a revision
type EntryRef struct {
	// Path is the repository path, relative to the repository root
	Path string

	// Revision is the revision; empty means HEAD
	Revision Revision
}

func (e EntryRef) String() string {
	return e.Path + "@" + e.Revision.String()
}

// Property is a versioned name/value pair attached to a node
type Property struct {
	Name  string
	Value []byte
}

// TreeConflict describes a structural conflict recorded on a node
type TreeConflict struct {
	// Incoming is the kind of the node the backend tried to bring in
	Incoming NodeKind

	// Reason is a backend specific description
	Reason string
}

// EntryStatus is the local state of one working copy entry
type EntryStatus struct {
	// Path is relative to the working copy root
	Path string

	// Kind is the node kind as known to the backend or found on disk
	Kind NodeKind

	// State is the local state
	State State

	// Revision is the base revision of a versioned entry
	Revision Revision

	// TreeConflict is set when the entry carries a tree conflict
	TreeConflict *TreeConflict
}

// UpdateOptions configures an update
type UpdateOptions struct {
	// Depth limits the update
	Depth Depth

	// IgnoreExternals skips external definitions
	IgnoreExternals bool
}

// CommitOptions configures a commit
type CommitOptions struct {
	// Depth limits what is committed below each path
	Depth Depth

	// KeepLocks keeps locks held on committed paths
	KeepLocks bool

	// NoVerify skips commit hooks where the backend supports it
	NoVerify bool
}

// PostCommitError is a failure reported after the commit succeeded,
// typically by a server-side hook
type PostCommitError struct {
	Path    string
	Message string
}

func (e PostCommitError) Error() string {
	if e.Path == "" {
		return "post-commit: " + e.Message
	}
	return "post-commit " + e.Path + ": " + e.Message
}

// CommitResult is returned by a successful commit
type CommitResult struct {
	// Revision is the new revision, empty when nothing was committed
	Revision Revision

	// PostCommitErrors are post-processing failures of a commit
	// that itself succeeded
	PostCommitErrors []PostCommitError
}

// ===================
// Notifications
// ===================

// Action is what happened to a path during an operation
type Action int

const (
	ActionUpdateAdd Action = iota
	ActionUpdateDelete
	ActionUpdateUpdate
	ActionRevert
	ActionDelete
	ActionCommitted
	ActionSkip
	ActionTreeConflict
	ActionMergeBegin
)

// NodeStatus is the outcome for the content or the properties of a
// path in a notification
type NodeStatus int

const (
	StatusUnchanged NodeStatus = iota
	StatusChanged
	StatusMerged
	StatusConflicted
	StatusMissing
	StatusObstructed
)

// Notification reports progress on one path
type Notification struct {
	Path         string
	Action       Action
	Kind         NodeKind
	ContentState NodeStatus
	PropState    NodeStatus
	Revision     Revision
}

// Conflicted reports whether the notification describes a conflict
func (n Notification) Conflicted() bool {
	return n.Action == ActionTreeConflict ||
		n.ContentState == StatusConflicted ||
		n.PropState == StatusConflicted
}

// ConflictDetail describes the conflict a notification reports
func (n Notification) ConflictDetail() string {
	switch {
	case n.Action == ActionTreeConflict:
		return "tree conflict"
	case n.ContentState == StatusConflicted && n.PropState == StatusConflicted:
		return "text and property conflict"
	case n.ContentState == StatusConflicted:
		return "text conflict"
	case n.PropState == StatusConflicted:
		return "property conflict"
	}
	return ""
}

// NotifyFunc receives notifications. It must not block.
type NotifyFunc func(Notification)

// Emit calls f when it is set
func (f NotifyFunc) Emit(n Notification) {
	if f != nil {
		f(n)
	}
}

// ===================
// Merge
// ===================

// MergeKind selects how a merge request names its sources
type MergeKind int

const (
	// MergeSingle merges changes of one source over revisions
	MergeSingle MergeKind = iota

	// MergeDual merges the difference between two sources
	MergeDual

	// MergeReintegrate merges a branch back, the backend picks the
	// reintegration point
	MergeReintegrate
)

func (k MergeKind) String() string {
	switch k {
	case MergeSingle:
		return "single"
	case MergeDual:
		return "dual"
	default:
		return "reintegrate"
	}
}

// MergeRequest is the backend form of a merge shape
type MergeRequest struct {
	Kind MergeKind

	// Source is the merge source for single and reintegrate merges,
	// and the start endpoint of a dual merge
	Source EntryRef

	// End is the end endpoint of a dual merge
	End EntryRef

	// Changes are single changesets (a range with From == To)
	Changes []Revision

	// Ranges are revision intervals
	Ranges []RevisionRange
}

// MergeOptions are passed through to the backend unchanged
type MergeOptions struct {
	Depth          Depth
	IgnoreAncestry bool
	RecordOnly     bool
}

// ChangeKind describes how text or properties of a node change
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeAdded
	ChangeDeleted
	ChangeModified
	ChangeReplaced
	ChangeConflicted
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNone:
		return "none"
	case ChangeAdded:
		return "added"
	case ChangeDeleted:
		return "deleted"
	case ChangeModified:
		return "modified"
	case ChangeReplaced:
		return "replaced"
	default:
		return "conflicted"
	}
}

// MarshalText encodes the change kind by name
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// MergeStatus is one record of a merge status stream
type MergeStatus struct {
	Path         string
	Kind         NodeKind
	Text         ChangeKind
	Props        ChangeKind
	Eligible     bool
	Skipped      bool
	TreeConflict bool

	// Source is the repository path the change comes from
	Source string
}
