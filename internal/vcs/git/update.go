package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/wcsync/wcsync/internal/vcs"
)

// Update implements vcs.Connector.
//
// Git moves the whole branch, not single paths: HEAD is fast-forwarded
// to rev (the upstream tip for HEAD) with local changes carried over by
// --autostash. Notifications are only emitted for paths at or below the
// requested ones. Local edits that clash with incoming changes are left
// as unmerged entries and reported as conflicts. A rev already
// contained in HEAD is a no-op; a diverged rev is an error.
// Submodules are never updated, so IgnoreExternals is always in effect.
func (c *Connector) Update(ctx context.Context, paths []string, rev vcs.Revision, opts vcs.UpdateOptions, notify vcs.NotifyFunc) (vcs.Revision, error) {
	head, err := c.resolve(ctx, vcs.RevisionHead)
	if err != nil {
		return "", err
	}

	var target string
	if rev.IsHead() {
		target, err = c.latest(ctx)
	} else {
		target, err = c.resolve(ctx, rev)
	}
	if err != nil {
		return "", err
	}
	if target == head {
		return vcs.Revision(head), nil
	}

	d, err := c.divergence(ctx, head, target)
	if err != nil {
		return "", err
	}
	switch {
	case d.RemoteAhead == 0:
		// already contained in HEAD
		return vcs.Revision(head), nil
	case d.IsDiverged():
		return "", fmt.Errorf("failed to update to %s: HEAD has diverged (%d local, %d incoming commits)",
			shortRev(vcs.Revision(target)), d.LocalAhead, d.RemoteAhead)
	}

	changes, err := c.changes(vcs.Revision(head), vcs.Revision(target))
	if err != nil {
		return "", err
	}

	_, mergeErr := c.run(ctx, "merge", "--ff-only", "--autostash", "--quiet", target)

	conflicts, err := c.conflicted(ctx, paths)
	if err != nil {
		return "", err
	}
	if mergeErr != nil && len(conflicts) == 0 {
		return "", fmt.Errorf("failed to update to %s: %w", shortRev(vcs.Revision(target)), mergeErr)
	}

	reached, err := c.resolve(ctx, vcs.RevisionHead)
	if err != nil {
		return "", err
	}
	conflicted := make(map[string]bool, len(conflicts))
	for _, p := range conflicts {
		conflicted[p] = true
	}
	for _, ch := range changes {
		if !underAny(ch.path, paths, opts.Depth) {
			continue
		}
		n := vcs.Notification{Path: ch.path, Action: ch.action, Kind: ch.kind, Revision: vcs.Revision(reached)}
		if ch.action == vcs.ActionUpdateUpdate {
			n.ContentState = vcs.StatusChanged
		}
		if conflicted[ch.path] {
			n.ContentState = vcs.StatusConflicted
			delete(conflicted, ch.path)
		}
		notify.Emit(n)
	}
	// conflicts left by the autostash on paths the update did not touch
	for _, p := range conflicts {
		if conflicted[p] {
			notify.Emit(vcs.Notification{
				Path:         p,
				Action:       vcs.ActionUpdateUpdate,
				Kind:         vcs.KindFile,
				ContentState: vcs.StatusConflicted,
				Revision:     vcs.Revision(reached),
			})
		}
	}
	return vcs.Revision(reached), nil
}

// fileChange is a file level change between two commits
type fileChange struct {
	path   string
	action vcs.Action
	kind   vcs.NodeKind
}

// changes lists the files changed between two commits
func (c *Connector) changes(from, to vcs.Revision) ([]fileChange, error) {
	a, err := c.commit(from)
	if err != nil {
		return nil, err
	}
	b, err := c.commit(to)
	if err != nil {
		return nil, err
	}
	ta, err := a.Tree()
	if err != nil {
		return nil, err
	}
	tb, err := b.Tree()
	if err != nil {
		return nil, err
	}
	diffs, err := object.DiffTree(ta, tb)
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s..%s: %w", shortRev(from), shortRev(to), err)
	}

	out := make([]fileChange, 0, len(diffs))
	for _, ch := range diffs {
		action, err := ch.Action()
		if err != nil {
			return nil, err
		}
		fc := fileChange{kind: vcs.KindFile}
		switch action {
		case merkletrie.Insert:
			fc.path, fc.action = ch.To.Name, vcs.ActionUpdateAdd
		case merkletrie.Delete:
			fc.path, fc.action = ch.From.Name, vcs.ActionUpdateDelete
		default:
			fc.path, fc.action = ch.To.Name, vcs.ActionUpdateUpdate
		}
		out = append(out, fc)
	}
	return out, nil
}

// underAny reports whether p is reached from one of roots at depth
func underAny(p string, roots []string, depth vcs.Depth) bool {
	for _, r := range roots {
		if vcs.WithinDepth(r, p, depth) {
			return true
		}
	}
	return false
}
