package git

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/wcsync/wcsync/internal/vcs"
)

// For git a merge source is an EntryRef whose Revision names a branch
// or commit and whose Path selects a folder of that commit. An empty
// Path means the folder at the same place as the merge target. Every
// merge shape is reduced to a list of steps, each the difference
// between two (commit, folder) pairs, applied below the target path.

// mergeStep is the difference from one commit folder to another
type mergeStep struct {
	from     *object.Commit // nil for the empty tree
	fromPath string
	to       *object.Commit
	toPath   string
}

// plan reduces a merge request for target to steps
func (c *Connector) plan(req vcs.MergeRequest, target string) ([]mergeStep, error) {
	src := sourcePath(req.Source, target)
	switch req.Kind {
	case vcs.MergeDual:
		from, err := c.commit(req.Source.Revision)
		if err != nil {
			return nil, err
		}
		to, err := c.commit(req.End.Revision)
		if err != nil {
			return nil, err
		}
		return []mergeStep{{from: from, fromPath: src, to: to, toPath: sourcePath(req.End, target)}}, nil

	case vcs.MergeReintegrate:
		if req.Source.Revision.IsHead() {
			return nil, fmt.Errorf("reintegrate needs a source branch, got %s", req.Source)
		}
		head, err := c.commit(vcs.RevisionHead)
		if err != nil {
			return nil, err
		}
		to, err := c.commit(req.Source.Revision)
		if err != nil {
			return nil, err
		}
		bases, err := head.MergeBase(to)
		if err != nil {
			return nil, fmt.Errorf("failed to find merge base with %s: %w", req.Source.Revision, err)
		}
		var base *object.Commit
		if len(bases) > 0 {
			base = bases[0]
		}
		return []mergeStep{{from: base, fromPath: src, to: to, toPath: src}}, nil

	default:
		var steps []mergeStep
		for _, rev := range req.Changes {
			to, err := c.commit(rev)
			if err != nil {
				return nil, err
			}
			var from *object.Commit
			if to.NumParents() > 0 {
				if from, err = to.Parent(0); err != nil {
					return nil, fmt.Errorf("failed to read parent of %s: %w", shortRev(rev), err)
				}
			}
			steps = append(steps, mergeStep{from: from, fromPath: src, to: to, toPath: src})
		}
		for _, r := range req.Ranges {
			from, err := c.commit(r.From)
			if err != nil {
				return nil, err
			}
			to, err := c.commit(r.To)
			if err != nil {
				return nil, err
			}
			steps = append(steps, mergeStep{from: from, fromPath: src, to: to, toPath: src})
		}
		if len(steps) == 0 {
			return nil, fmt.Errorf("merge of %s names no revisions", req.Source)
		}
		return steps, nil
	}
}

func sourcePath(ref vcs.EntryRef, target string) string {
	if p := vcs.CleanPath(ref.Path); p != "" {
		return p
	}
	return target
}

// stepChange is one file touched by a merge step, mapped below the target
type stepChange struct {
	dest   string
	source string
	text   vcs.ChangeKind
	base   plumbing.Hash
	theirs plumbing.Hash
}

// diff lists the files a step changes, mapped below target
func (s mergeStep) diff(target string) ([]stepChange, error) {
	var ta *object.Tree
	if s.from != nil {
		t, err := subtree(s.from, s.fromPath)
		if err != nil {
			return nil, err
		}
		ta = t
	}
	tb, err := subtree(s.to, s.toPath)
	if err != nil {
		return nil, err
	}
	changes, err := object.DiffTree(ta, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to diff merge source: %w", err)
	}

	out := make([]stepChange, 0, len(changes))
	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		sc := stepChange{}
		switch action {
		case merkletrie.Insert:
			sc.text = vcs.ChangeAdded
			sc.dest = ch.To.Name
			sc.theirs = ch.To.TreeEntry.Hash
		case merkletrie.Delete:
			sc.text = vcs.ChangeDeleted
			sc.dest = ch.From.Name
			sc.base = ch.From.TreeEntry.Hash
		default:
			sc.text = vcs.ChangeModified
			sc.dest = ch.To.Name
			sc.base = ch.From.TreeEntry.Hash
			sc.theirs = ch.To.TreeEntry.Hash
		}
		sc.source = vcs.JoinPath(s.toPath, sc.dest)
		sc.dest = vcs.JoinPath(target, sc.dest)
		out = append(out, sc)
	}
	return out, nil
}

// ===================
// Merge status
// ===================

// MergeStatus implements vcs.Connector. Statuses are computed from
// commits only: a change whose result already matches HEAD is treated
// as merged and not reported.
func (c *Connector) MergeStatus(ctx context.Context, req vcs.MergeRequest, path string, opts vcs.MergeOptions, emit func(vcs.MergeStatus)) error {
	path = vcs.CleanPath(path)
	head, err := c.commit(vcs.RevisionHead)
	if err != nil {
		return err
	}
	headTree, err := head.Tree()
	if err != nil {
		return err
	}
	steps, err := c.plan(req, path)
	if err != nil {
		return err
	}

	byPath := make(map[string]vcs.MergeStatus)
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		changes, err := step.diff(path)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if !vcs.WithinDepth(path, ch.dest, opts.Depth) {
				continue
			}
			local, err := blobHash(headTree, ch.dest)
			if err != nil {
				return err
			}
			if local == ch.theirs {
				// nothing left to bring over
				delete(byPath, ch.dest)
				continue
			}
			byPath[ch.dest] = classify(ch, local)
		}
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		emit(byPath[p])
	}
	return nil
}

// classify turns a change into a status given the HEAD blob at its
// destination (zero when absent)
func classify(ch stepChange, local plumbing.Hash) vcs.MergeStatus {
	st := vcs.MergeStatus{
		Path:     ch.dest,
		Kind:     vcs.KindFile,
		Text:     ch.text,
		Eligible: true,
		Source:   ch.source,
	}
	switch ch.text {
	case vcs.ChangeAdded:
		// obstructed by an unrelated local file
		st.TreeConflict = !local.IsZero()
	case vcs.ChangeDeleted:
		st.TreeConflict = local != ch.base
	default:
		switch {
		case local.IsZero():
			st.TreeConflict = true
		case local != ch.base:
			st.Text = vcs.ChangeConflicted
		}
	}
	return st
}

// blobHash returns the blob hash of p in tree, zero when absent
func blobHash(tree *object.Tree, p string) (plumbing.Hash, error) {
	entry, err := tree.FindEntry(p)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) ||
			errors.Is(err, plumbing.ErrObjectNotFound) {
			return plumbing.ZeroHash, nil
		}
		return plumbing.ZeroHash, err
	}
	if !entry.Mode.IsFile() {
		return plumbing.ZeroHash, nil
	}
	return entry.Hash, nil
}

// ===================
// Merge
// ===================

// Merge implements vcs.Connector.
//
// Each step is applied as a binary patch with `git apply --3way`, so
// clashing edits end up as unmerged entries with conflict markers and
// are reported as conflicts; the remaining steps are then skipped.
// The patch covers the whole folder; Depth only narrows notifications.
// RecordOnly is only meaningful for reintegration, where it starts an
// "ours" merge of the source branch so the next commit records it.
func (c *Connector) Merge(ctx context.Context, req vcs.MergeRequest, path string, opts vcs.MergeOptions, notify vcs.NotifyFunc) error {
	path = vcs.CleanPath(path)
	notify.Emit(vcs.Notification{Path: path, Action: vcs.ActionMergeBegin, Kind: vcs.KindDir})

	if opts.RecordOnly {
		if req.Kind != vcs.MergeReintegrate {
			return fmt.Errorf("record-only %s merge: %w", req.Kind, vcs.ErrNotSupported)
		}
		_, err := c.run(ctx, "merge", "--strategy=ours", "--no-ff", "--no-commit", "--quiet", req.Source.Revision.String())
		if err != nil {
			return fmt.Errorf("failed to record merge of %s: %w", req.Source, err)
		}
		return nil
	}

	steps, err := c.plan(req, path)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := c.apply(ctx, step, path, opts, notify)
		if err != nil {
			return err
		}
		if !done {
			break
		}
	}
	return nil
}

// apply applies one step and reports false when it left conflicts
func (c *Connector) apply(ctx context.Context, step mergeStep, path string, opts vcs.MergeOptions, notify vcs.NotifyFunc) (bool, error) {
	changes, err := step.diff(path)
	if err != nil {
		return false, err
	}
	if len(changes) == 0 {
		return true, nil
	}

	patch, err := c.run(ctx, step.diffArgs()...)
	if err != nil {
		return false, fmt.Errorf("failed to build merge patch: %w", err)
	}
	args := []string{"apply", "--3way", "--whitespace=nowarn"}
	if path != "" {
		args = append(args, "--directory="+path)
	}
	_, applyErr := c.runInput(ctx, patch, args...)

	conflicts, err := c.conflicted(ctx, []string{path})
	if err != nil {
		return false, err
	}
	if applyErr != nil && len(conflicts) == 0 {
		return false, fmt.Errorf("failed to apply merge to %s: %w", path, applyErr)
	}

	conflicted := make(map[string]bool, len(conflicts))
	for _, p := range conflicts {
		conflicted[p] = true
	}
	for _, ch := range changes {
		if !vcs.WithinDepth(path, ch.dest, opts.Depth) {
			continue
		}
		n := vcs.Notification{Path: ch.dest, Kind: vcs.KindFile, ContentState: vcs.StatusMerged}
		switch ch.text {
		case vcs.ChangeAdded:
			n.Action = vcs.ActionUpdateAdd
		case vcs.ChangeDeleted:
			n.Action = vcs.ActionUpdateDelete
		default:
			n.Action = vcs.ActionUpdateUpdate
		}
		if conflicted[ch.dest] {
			n.ContentState = vcs.StatusConflicted
		}
		notify.Emit(n)
	}
	return len(conflicts) == 0, nil
}

// diffArgs builds the `git diff` producing the patch of a step
func (s mergeStep) diffArgs() []string {
	args := []string{"diff", "--binary", "--full-index", "--no-renames", "--no-color", "--no-ext-diff"}
	from := emptyTree
	if s.from != nil {
		from = s.from.Hash.String()
	}
	to := s.to.Hash.String()
	if s.fromPath != s.toPath {
		return append(args, from+":"+s.fromPath, to+":"+s.toPath)
	}
	if s.toPath == "" {
		return append(args, from, to)
	}
	return append(args, "--relative="+s.toPath, from, to, "--", s.toPath)
}

// emptyTree is the object id of the empty tree
const emptyTree = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"
