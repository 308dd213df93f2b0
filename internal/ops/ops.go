// Package ops runs single backend operations over a batch of resources
// and keeps track of which resources did not make it.
//
// Every operation seeds a fresh conflict.Tracker with the resources it
// was asked to touch. Conflicts reported by the backend, either as
// notifications or as a *vcs.ConflictError, are mapped back to the
// coarsest resource containing the conflicting path; other failures
// move the affected resources to unprocessed.
package ops

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/conflict"
	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/report"
	"github.com/wcsync/wcsync/internal/vcs"
	"github.com/wcsync/wcsync/internal/wc"
)

// Runner executes batch operations against one connector
type Runner struct {
	conn   vcs.Connector
	sink   report.Sink
	logger *slog.Logger
}

// NewRunner creates a runner. A nil sink discards reports and a nil
// logger falls back to slog.Default().
func NewRunner(conn vcs.Connector, sink report.Sink, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{conn: conn, sink: report.OrDiscard(sink), logger: logger}
}

// Result is the outcome of a batch operation
type Result struct {
	// Partition splits the requested resources into processed and
	// unprocessed ones
	Partition conflict.Partition

	// Revision is the revision reached by an update or created by a commit
	Revision vcs.Revision

	// PostCommitErrors are reported by a commit that itself succeeded
	PostCommitErrors []vcs.PostCommitError
}

// batch is the per-operation state
type batch struct {
	r          *Runner
	op         string
	tracker    *conflict.Tracker
	conflicted bool
	err        error
}

func (r *Runner) begin(op string, resources []string) (*batch, []string) {
	resources = wc.ShrinkChildNodes(resources)
	b := &batch{r: r, op: op, tracker: conflict.NewTracker()}
	b.tracker.DefineInitialResourceSet(resources)
	r.logger.Debug("batch operation", "op", op, "resources", len(resources))
	return b, resources
}

// notify maps conflicts reported through notifications
func (b *batch) notify(n vcs.Notification) {
	if !n.Conflicted() {
		return
	}
	b.conflicted = true
	owner := b.tracker.MapConflict(n.Path, n.ConflictDetail())
	b.r.sink.Report(report.SeverityWarning,
		fmt.Sprintf("%s: %s on %s", b.op, n.ConflictDetail(), n.Path), nil)
	b.r.logger.Debug("conflict", "op", b.op, "path", n.Path, "resource", owner)
}

// record classifies err for the given resources
func (b *batch) record(resources []string, err error) {
	outcome := vcs.Classify(err)
	switch outcome.Kind {
	case vcs.OutcomeOk:
		return
	case vcs.OutcomeConflict:
		b.conflicted = true
		b.tracker.Record(firstOr(resources), outcome)
		b.r.sink.Report(report.SeverityWarning, fmt.Sprintf("%s: conflict on %s", b.op, outcome.Path), err)
	default:
		for _, r := range resources {
			b.tracker.Record(r, outcome)
		}
		b.r.sink.Report(report.SeverityError, fmt.Sprintf("failed to %s %v", b.op, resources), err)
	}
	b.err = multierror.Append(b.err, err)
}

func (b *batch) result() Result {
	return Result{Partition: b.tracker.Snapshot()}
}

// error returns the accumulated failures. Conflicts reported only
// through notifications still fail the operation.
func (b *batch) error() error {
	if b.err == nil && b.conflicted {
		return fmt.Errorf("failed to %s: %w", b.op, vcs.ErrConflicts)
	}
	return b.err
}

func firstOr(resources []string) string {
	if len(resources) == 0 {
		return ""
	}
	return resources[0]
}

// ===================
// Operations
// ===================

// Revert reverts each resource separately, so one failure does not
// stop the others.
func (r *Runner) Revert(ctx context.Context, resources []string, recursive bool) (Result, error) {
	b, resources := r.begin("revert", resources)
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			b.err = multierror.Append(b.err, err)
			b.tracker.AddUnprocessed(res)
			continue
		}
		b.record([]string{res}, r.conn.Revert(ctx, res, recursive, b.notify))
	}
	return b.result(), b.error()
}

// Update brings all resources to rev in one backend call. Conflicts
// left behind by the update are mapped through the tracker.
func (r *Runner) Update(ctx context.Context, resources []string, rev vcs.Revision, opts vcs.UpdateOptions) (Result, error) {
	b, resources := r.begin("update", resources)
	if len(resources) == 0 {
		return b.result(), nil
	}
	reached, err := r.conn.Update(ctx, resources, rev, opts, b.notify)
	b.record(resources, err)

	res := b.result()
	res.Revision = reached
	return res, b.error()
}

// Commit sends local changes of all resources in one backend call.
// Post-commit errors are returned in the result, not as an error.
func (r *Runner) Commit(ctx context.Context, resources []string, message string, opts vcs.CommitOptions) (Result, error) {
	b, resources := r.begin("commit", resources)
	if len(resources) == 0 {
		return b.result(), nil
	}
	cr, err := r.conn.Commit(ctx, resources, message, opts, b.notify)
	b.record(resources, err)

	res := b.result()
	res.Revision = cr.Revision
	res.PostCommitErrors = cr.PostCommitErrors
	for _, pce := range cr.PostCommitErrors {
		r.sink.Report(report.SeverityWarning, pce.Error(), nil)
	}
	return res, b.error()
}

// Delete schedules each resource for deletion
func (r *Runner) Delete(ctx context.Context, resources []string) (Result, error) {
	b, resources := r.begin("delete", resources)
	for _, res := range resources {
		if err := ctx.Err(); err != nil {
			b.err = multierror.Append(b.err, err)
			b.tracker.AddUnprocessed(res)
			continue
		}
		b.record([]string{res}, r.conn.Delete(ctx, res, b.notify))
	}
	return b.result(), b.error()
}

// Merge applies set to each of its targets that has at least one
// status entry. Targets without entries are left alone, and a set
// without entries makes no backend call at all.
func (r *Runner) Merge(ctx context.Context, set *merge.Set) (Result, error) {
	targets := lo.Filter(set.Targets, func(target string, _ int) bool {
		return set.Covers(target)
	})

	b, targets := r.begin("merge", targets)
	if len(targets) == 0 {
		r.logger.Debug("merge: nothing in scope")
		return b.result(), nil
	}
	req, err := set.Shape.Request()
	if err != nil {
		b.record(targets, fmt.Errorf("failed to build merge request: %w", err))
		return b.result(), b.error()
	}
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			b.err = multierror.Append(b.err, err)
			b.tracker.AddUnprocessed(target)
			continue
		}
		b.record([]string{target}, r.conn.Merge(ctx, req, target, set.Options.Backend(), b.notify))
	}
	return b.result(), b.error()
}
