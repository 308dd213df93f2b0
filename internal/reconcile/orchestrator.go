// Package reconcile brings local resources in line with the backend
// without losing uncommitted local edits.
//
// For every resource the orchestrator captures local content and
// properties, reverts and strips the working copy, updates it, optionally
// forces the local version onto the backend, and finally puts the
// captured edits back. The backend has no transaction covering these
// steps, so each resource is processed on its own: a failing resource
// is recorded in the conflict tracker while its siblings continue, and
// captured edits are restored on every exit path.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/changetree"
	"github.com/wcsync/wcsync/internal/conflict"
	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/snapshot"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// Options configures an Orchestrator
type Options struct {
	// Override commits the local version of each resource over the
	// backend's after the update
	Override bool

	// Message is the commit message used in override mode
	Message string

	// KeepLocks keeps locks on committed paths
	KeepLocks bool

	// IgnoreExternals skips external definitions during update
	IgnoreExternals bool

	// Preserve holds doublestar globs of paths never stripped before
	// the update
	Preserve []string

	// RemoteRevisions picks the revision a resource is updated to.
	// Nil updates to HEAD.
	RemoteRevisions func(resource string) vcs.Revision

	// Scope restricts a run to resources with at least one merge status
	// entry. Nil leaves the resources unrestricted.
	Scope *merge.Set

	// Sink receives per-resource reports; nil discards them
	Sink report.Sink

	// Logger receives debug output; nil uses slog.Default()
	Logger *slog.Logger
}

// Result is the outcome of a run
type Result struct {
	// Committables are the reconciled resources whose node kind did not change
	Committables []string

	// WithDifferentNodeKind are the reconciled resources that turned
	// from file to folder or back
	WithDifferentNodeKind []string

	// PostCommitErrors were reported by commits that succeeded
	PostCommitErrors []vcs.PostCommitError

	// Partition splits the requested resources into processed and unprocessed
	Partition conflict.Partition

	// Err aggregates the per-resource failures
	Err error
}

// Orchestrator reconciles resources of one working copy
type Orchestrator struct {
	conn  vcs.Connector
	tree  *wc.Tree
	store *snapshot.Store
	opts  Options

	// finalUpdate runs one more update after a successful commit
	finalUpdate bool

	sink    report.Sink
	log     *slog.Logger
	tracker *conflict.Tracker
}

func newOrchestrator(conn vcs.Connector, tree *wc.Tree, store *snapshot.Store, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		conn:    conn,
		tree:    tree,
		store:   store,
		opts:    opts,
		sink:    report.OrDiscard(opts.Sink),
		log:     logger,
		tracker: conflict.NewTracker(),
	}
}

// NewMarkAsMerged creates an orchestrator that marks local resources as
// merged with the backend: local edits survive an update to the remote
// revision, and in override mode the local version is committed.
func NewMarkAsMerged(conn vcs.Connector, tree *wc.Tree, store *snapshot.Store, opts Options) *Orchestrator {
	return newOrchestrator(conn, tree, store, opts)
}

// NewOverrideAndCommit creates an orchestrator that always replaces the
// backend version with the local one. Resources are updated to HEAD and
// updated once more after the commit.
func NewOverrideAndCommit(conn vcs.Connector, tree *wc.Tree, store *snapshot.Store, opts Options) *Orchestrator {
	opts.Override = true
	opts.RemoteRevisions = nil
	o := newOrchestrator(conn, tree, store, opts)
	o.finalUpdate = true
	return o
}

// Tracker returns the conflict tracker of the last run
func (o *Orchestrator) Tracker() *conflict.Tracker {
	return o.tracker
}

// Run reconciles resources one after the other, parents first.
// Cancellation is checked between resources; a resource that has
// started is always finished, restore included. A snapshot storage
// failure stops the run.
func (o *Orchestrator) Run(ctx context.Context, resources []string) Result {
	var res Result
	resources = wc.ShrinkChildNodes(resources)

	if scope := o.opts.Scope; scope != nil {
		if scope.Len() == 0 {
			o.log.Debug("reconcile: empty merge scope")
			o.tracker.DefineInitialResourceSet(nil)
			res.Partition = o.tracker.Snapshot()
			return res
		}
		resources = lo.Filter(resources, func(r string, _ int) bool {
			return scope.Covers(r)
		})
	}
	o.tracker.DefineInitialResourceSet(resources)

	for i, r := range resources {
		if err := ctx.Err(); err != nil {
			for _, rest := range resources[i:] {
				o.tracker.AddUnprocessed(rest)
			}
			res.Err = multierror.Append(res.Err, err)
			break
		}

		err := o.reconcile(context.WithoutCancel(ctx), r, &res)
		if err == nil {
			continue
		}
		res.Err = multierror.Append(res.Err, err)
		if errors.Is(err, snapshot.ErrSnapshotIO) {
			o.sink.Report(report.SeverityError, "snapshot storage failed, stopping", err)
			for _, rest := range resources[i+1:] {
				o.tracker.AddUnprocessed(rest)
			}
			break
		}
	}

	res.Partition = o.tracker.Snapshot()
	o.sink.Report(report.SeverityInfo, fmt.Sprintf("reconciled %d of %d resources (%d with a different node kind)",
		len(res.Committables)+len(res.WithDifferentNodeKind), len(resources), len(res.WithDifferentNodeKind)), nil)
	return res
}

// reconcile dispatches r on its local state
func (o *Orchestrator) reconcile(ctx context.Context, r string, res *Result) error {
	st, err := o.state(ctx, r)
	if err != nil {
		return o.fail(r, "get status of", err)
	}
	o.log.Debug("reconcile", "resource", r, "state", st.State)

	switch {
	case vcs.FilterInvalid.Accept(st.State):
		o.tracker.Drop(r)
		o.sink.Report(report.SeverityWarning, fmt.Sprintf("skipping %s: invalid state", r), nil)
		return nil

	case st.State == vcs.StateNotExists:
		o.tracker.Drop(r)
		o.sink.Report(report.SeverityInfo, fmt.Sprintf("skipping %s: does not exist", r), nil)
		return nil

	case st.TreeConflict != nil && st.TreeConflict.Incoming == vcs.KindUnknown:
		// nothing to compare against; the caller refreshes the resource
		return o.call(r, "revert", func(notify vcs.NotifyFunc) error {
			return o.conn.Revert(ctx, r, true, notify)
		})

	case vcs.FilterDeleted.Accept(st.State) && !vcs.FilterPrereplacedReplaced.Accept(st.State):
		if err := o.markDeleted(ctx, r); err != nil {
			return err
		}
		res.Committables = append(res.Committables, r)
		return nil
	}

	kindChanged, err := o.markExisting(ctx, r, res)
	if err != nil {
		return err
	}
	if kindChanged {
		res.WithDifferentNodeKind = append(res.WithDifferentNodeKind, r)
	} else {
		res.Committables = append(res.Committables, r)
	}
	return nil
}

// state returns the backend state of r itself
func (o *Orchestrator) state(ctx context.Context, r string) (vcs.EntryStatus, error) {
	statuses, err := o.conn.Status(ctx, r, vcs.DepthEmpty)
	if err != nil {
		return vcs.EntryStatus{}, err
	}
	for _, st := range statuses {
		if vcs.CleanPath(st.Path) == r {
			return st, nil
		}
	}
	return vcs.EntryStatus{Path: r, State: vcs.StateNotExists}, nil
}

// markDeleted carries a local deletion over the update. There is no
// local content to keep.
func (o *Orchestrator) markDeleted(ctx context.Context, r string) error {
	err := o.call(r, "revert", func(notify vcs.NotifyFunc) error {
		return o.conn.Revert(ctx, r, true, notify)
	})
	if err != nil {
		return err
	}
	if err := o.update(ctx, r, o.revision(r)); err != nil {
		return err
	}
	if !o.tree.Exists(r) {
		return nil
	}
	return o.call(r, "delete", func(notify vcs.NotifyFunc) error {
		return o.conn.Delete(ctx, r, notify)
	})
}

// markExisting snapshots r, brings it to the remote revision, optionally
// commits the local version over it and restores the snapshot. It
// reports whether the node kind of r changed.
func (o *Orchestrator) markExisting(ctx context.Context, r string, res *Result) (kindChanged bool, err error) {
	tree, err := changetree.Build(ctx, o.tree, o.conn, r, vcs.DepthInfinity)
	if err != nil {
		return false, o.fail(r, "read", err)
	}

	defer func() {
		if rerr := o.restore(ctx, r, tree, kindChanged); rerr != nil {
			err = multierror.Append(err, rerr).ErrorOrNil()
		}
	}()

	save := changetree.Composite{
		snapshot.SaveProperties{Conn: o.conn},
		snapshot.SaveContent{Store: o.store, Tree: o.tree},
	}
	if err := tree.Traverse(ctx, save, vcs.DepthInfinity, nil); err != nil {
		return false, o.fail(r, "snapshot", err)
	}

	if tree.Any(vcs.FilterRevertable) {
		err := o.call(r, "revert", func(notify vcs.NotifyFunc) error {
			return o.conn.Revert(ctx, r, true, notify)
		})
		if err != nil {
			return false, err
		}
	}

	strip := &changetree.Collector{}
	clean := snapshot.RemoveNonVersioned{Tree: o.tree, IncludeAdded: true, Preserve: o.opts.Preserve}
	if err := tree.Traverse(ctx, clean, vcs.DepthInfinity, strip); err != nil {
		return false, o.fail(r, "strip", err)
	}
	if strip.Err != nil {
		o.sink.Report(report.SeverityWarning, fmt.Sprintf("failed to strip unversioned entries of %s", r), strip.Err)
	}

	if err := o.update(ctx, r, o.revision(r)); err != nil {
		return false, err
	}

	root := tree.Node(tree.Root())
	scheduled := false
	if o.opts.Override && o.tree.Exists(r) {
		kindChanged, scheduled, err = o.prepareToOverride(ctx, r, tree)
		if err != nil {
			return kindChanged, err
		}
	} else {
		kindChanged, err = o.kindDiffers(root)
		if err != nil {
			return false, o.fail(r, "read", err)
		}
	}

	if o.opts.Override && (o.tree.Exists(r) || scheduled) {
		if err := o.commit(ctx, r, res); err != nil {
			return kindChanged, err
		}
		if o.finalUpdate {
			if err := o.update(ctx, r, vcs.RevisionHead); err != nil {
				return kindChanged, err
			}
		}
	}
	return kindChanged, nil
}

// prepareToOverride visits tree children first. Nodes that were not on
// the backend before the update, and nodes whose kind changed, are
// removed so the commit replaces the backend's version: from disk when
// the backend does not know them, through a backend deletion when it
// does. It reports whether the kind of the resource itself changed and
// whether a deletion was scheduled.
func (o *Orchestrator) prepareToOverride(ctx context.Context, r string, tree *changetree.Tree) (rootChanged, scheduled bool, err error) {
	visit := changetree.Funcs{
		Post: func(ctx context.Context, t *changetree.Tree, id changetree.NodeID, _ changetree.Processor) error {
			n := t.Node(id)
			changed, err := o.kindDiffers(n)
			if err != nil {
				return err
			}
			if id == t.Root() {
				rootChanged = changed
			}
			if !changed && !vcs.FilterNotOnRepository.Accept(n.State) {
				return nil
			}
			if !o.tree.Exists(n.Path) || snapshot.Preserved(o.opts.Preserve, n.Path) {
				return nil
			}
			// the update may have brought a node the backend now knows
			now, err := o.state(ctx, n.Path)
			if err != nil {
				return err
			}
			o.log.Debug("override", "path", n.Path, "state", n.State, "now", now.State, "kind_changed", changed)
			if !vcs.FilterVersioned.Accept(now.State) {
				return o.tree.RemoveAll(n.Path)
			}
			if err := o.conn.Delete(ctx, n.Path, nil); err != nil {
				return err
			}
			scheduled = true
			return nil
		},
	}
	if err := tree.Traverse(ctx, visit, vcs.DepthInfinity, nil); err != nil {
		return rootChanged, scheduled, o.fail(r, "override", err)
	}
	return rootChanged, scheduled, nil
}

// kindDiffers reports whether n exists on disk as the other kind
func (o *Orchestrator) kindDiffers(n *changetree.Node) (bool, error) {
	now, err := o.tree.Stat(n.Path)
	if err != nil {
		return false, err
	}
	if now == vcs.KindNone || n.Kind == vcs.KindNone {
		return false, nil
	}
	return (now == vcs.KindDir) != n.IsDir(), nil
}

// restore puts captured content and properties back and disposes every
// snapshot entry of tree
func (o *Orchestrator) restore(ctx context.Context, r string, tree *changetree.Tree, kindChanged bool) error {
	proc := &changetree.Collector{}
	visit := changetree.Composite{
		&snapshot.RestoreContent{Tree: o.tree, NodeKindChanged: kindChanged, Sink: o.sink},
		snapshot.RestoreProperties{Conn: o.conn, NodeKindChanged: kindChanged, Sink: o.sink},
	}

	var result error
	if err := tree.Traverse(ctx, visit, vcs.DepthInfinity, proc); err != nil {
		result = multierror.Append(result, err)
	}
	if proc.Err != nil {
		result = multierror.Append(result, proc.Err)
	}
	if err := tree.Dispose(); err != nil {
		result = multierror.Append(result, err)
	}
	if result == nil {
		return nil
	}
	o.tracker.AddUnprocessed(r)
	o.sink.Report(report.SeverityError, fmt.Sprintf("failed to restore local changes of %s", r), result)
	return fmt.Errorf("failed to restore %s: %w", r, result)
}

// ===================
// Backend steps
// ===================

func (o *Orchestrator) revision(r string) vcs.Revision {
	if o.opts.RemoteRevisions == nil {
		return vcs.RevisionHead
	}
	if rev := o.opts.RemoteRevisions(r); rev != "" {
		return rev
	}
	return vcs.RevisionHead
}

func (o *Orchestrator) update(ctx context.Context, r string, rev vcs.Revision) error {
	return o.call(r, "update", func(notify vcs.NotifyFunc) error {
		_, err := o.conn.Update(ctx, []string{r}, rev, vcs.UpdateOptions{
			Depth:           vcs.DepthInfinity,
			IgnoreExternals: o.opts.IgnoreExternals,
		}, notify)
		return err
	})
}

func (o *Orchestrator) commit(ctx context.Context, r string, res *Result) error {
	return o.call(r, "commit", func(notify vcs.NotifyFunc) error {
		cr, err := o.conn.Commit(ctx, []string{r}, o.opts.Message, vcs.CommitOptions{
			Depth:     vcs.DepthInfinity,
			KeepLocks: o.opts.KeepLocks,
		}, notify)
		if err != nil {
			return err
		}
		for _, pce := range cr.PostCommitErrors {
			o.sink.Report(report.SeverityWarning, pce.Error(), nil)
		}
		res.PostCommitErrors = append(res.PostCommitErrors, cr.PostCommitErrors...)
		return nil
	})
}

// call runs one backend step for resource r. Conflicts reported through
// notifications are mapped through the tracker and abort the resource
// like a conflict error would.
func (o *Orchestrator) call(r, step string, fn func(notify vcs.NotifyFunc) error) error {
	var conflicts []vcs.Notification
	err := fn(func(n vcs.Notification) {
		if n.Conflicted() {
			conflicts = append(conflicts, n)
		}
	})
	if err != nil {
		return o.fail(r, step, err)
	}
	if len(conflicts) == 0 {
		return nil
	}
	for _, n := range conflicts {
		o.tracker.MapConflict(n.Path, n.ConflictDetail())
		o.sink.Report(report.SeverityWarning, fmt.Sprintf("%s: %s on %s", step, n.ConflictDetail(), n.Path), nil)
	}
	first := conflicts[0]
	return fmt.Errorf("failed to %s %s: %w", step, r,
		&vcs.ConflictError{Path: first.Path, Detail: first.ConflictDetail()})
}

// fail records err for resource r and wraps it
func (o *Orchestrator) fail(r, step string, err error) error {
	outcome := vcs.Classify(err)
	o.tracker.Record(r, outcome)
	severity := report.SeverityError
	if outcome.Kind == vcs.OutcomeConflict {
		severity = report.SeverityWarning
	}
	o.sink.Report(severity, fmt.Sprintf("failed to %s %s", step, r), err)
	return fmt.Errorf("failed to %s %s: %w", step, r, err)
}
