package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/wcsync/wcsync/internal/vcs"
)

// ===================
// Revert
// ===================

// Revert implements vcs.Connector. Added files are removed from the
// index and stay on disk as unversioned files; files known to HEAD get
// their HEAD content back in both the index and the working tree.
// Git does not track folders, so a non-recursive revert of a folder
// only touches its own entry and is a no-op.
func (c *Connector) Revert(ctx context.Context, path string, recursive bool, notify vcs.NotifyFunc) error {
	path = vcs.CleanPath(path)
	depth := vcs.DepthEmpty
	if recursive {
		depth = vcs.DepthInfinity
	}
	entries, err := c.Status(ctx, path, depth)
	if err != nil {
		return fmt.Errorf("failed to get status of %s: %w", path, err)
	}

	var added, restore []string
	for _, st := range entries {
		if st.Kind == vcs.KindDir || !vcs.FilterRevertable(st.State) {
			continue
		}
		if st.State == vcs.StateAdded {
			added = append(added, st.Path)
		} else {
			restore = append(restore, st.Path)
		}
	}

	if len(added) > 0 {
		args := withPaths([]string{"rm", "--cached", "--quiet", "-r", "--force"}, added...)
		if _, err := c.run(ctx, args...); err != nil {
			return fmt.Errorf("failed to unstage added files under %s: %w", path, err)
		}
	}
	if len(restore) > 0 {
		args := withPaths([]string{"restore", "--source=HEAD", "--staged", "--worktree"}, restore...)
		if _, err := c.run(ctx, args...); err != nil {
			return fmt.Errorf("failed to restore %s: %w", path, err)
		}
	}

	for _, p := range append(added, restore...) {
		notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionRevert, Kind: vcs.KindFile})
	}
	return nil
}

// ===================
// Delete
// ===================

// Delete implements vcs.Connector. Tracked paths are removed with
// `git rm`; whatever is left on disk below them is removed too.
func (c *Connector) Delete(ctx context.Context, path string, notify vcs.NotifyFunc) error {
	path = vcs.CleanPath(path)
	if path == "" {
		return fmt.Errorf("refusing to delete the working copy root")
	}
	kind := c.diskKind(path)

	tracked, err := c.tracked(ctx, path)
	if err != nil {
		return err
	}
	if !tracked && kind == vcs.KindNone {
		return fmt.Errorf("failed to delete %s: %w", path, vcs.ErrPathNotFound)
	}
	if tracked {
		if _, err := c.run(ctx, withPaths([]string{"rm", "-r", "--force", "--quiet"}, path)...); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	if err := os.RemoveAll(c.abs(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	notify.Emit(vcs.Notification{Path: path, Action: vcs.ActionDelete, Kind: kind})
	return nil
}

// ===================
// Commit
// ===================

// Commit implements vcs.Connector.
//
// All changes under paths, including deletions and untracked files,
// are staged and committed; staged changes elsewhere are left alone.
// With Options.Push the commit is refused with a conflict when the
// upstream has moved on, and pushed afterwards. A failed push does not
// undo the local commit and is reported as a post-commit error.
// KeepLocks has no meaning for git.
func (c *Connector) Commit(ctx context.Context, paths []string, message string, opts vcs.CommitOptions, notify vcs.NotifyFunc) (vcs.CommitResult, error) {
	if message == "" {
		return vcs.CommitResult{}, fmt.Errorf("commit message is required")
	}
	paths = lo.Uniq(lo.Map(paths, func(p string, _ int) string { return vcs.CleanPath(p) }))
	if len(paths) == 0 {
		return vcs.CommitResult{}, nil
	}

	if c.opts.Push {
		stale, err := c.outOfDate(ctx)
		if err != nil {
			return vcs.CommitResult{}, err
		}
		if stale {
			return vcs.CommitResult{}, &vcs.ConflictError{Path: paths[0], Detail: "out of date"}
		}
	}

	// Stage everything under paths, deletions included. Paths already
	// gone from disk and index need no staging.
	stage := make([]string, 0, len(paths))
	for _, p := range paths {
		tracked, err := c.tracked(ctx, p)
		if err != nil {
			return vcs.CommitResult{}, err
		}
		if tracked || c.diskKind(p) != vcs.KindNone {
			stage = append(stage, p)
		}
	}
	if len(stage) > 0 {
		if _, err := c.run(ctx, withPaths([]string{"add", "--all"}, stage...)...); err != nil {
			return vcs.CommitResult{}, fmt.Errorf("failed to stage %v: %w", stage, err)
		}
	}

	args := []string{"commit", "-m", message}
	if opts.NoVerify {
		args = append(args, "--no-verify")
	}
	output, err := c.run(ctx, withPaths(args, paths...)...)
	if err != nil {
		if nothingToCommit(output, err) {
			return vcs.CommitResult{}, nil
		}
		return vcs.CommitResult{}, fmt.Errorf("failed to commit %v: %w", paths, err)
	}

	head, err := c.headRevision(ctx)
	if err != nil {
		return vcs.CommitResult{}, err
	}
	res := vcs.CommitResult{Revision: head}

	committed, err := c.run(ctx, "diff-tree", "--no-commit-id", "--name-only", "-r", "-z", "--root", "HEAD")
	if err == nil {
		for _, p := range vcs.ParseNulTerminated(committed) {
			notify.Emit(vcs.Notification{Path: p, Action: vcs.ActionCommitted, Kind: vcs.KindFile, Revision: head})
		}
	}

	if c.opts.Push {
		if err := c.push(ctx); err != nil {
			res.PostCommitErrors = append(res.PostCommitErrors, vcs.PostCommitError{Message: err.Error()})
		}
	}
	return res, nil
}

// nothingToCommit recognises the refusal to create an empty commit
func nothingToCommit(output []byte, err error) bool {
	text := string(output) + err.Error()
	return strings.Contains(text, "nothing to commit") ||
		strings.Contains(text, "no changes added to commit") ||
		strings.Contains(text, "nothing added to commit")
}
