package git

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/wcsync/wcsync/internal/vcs"
)

// detect populates working copy information
func (c *Connector) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Use git rev-parse to get all info in one call
	lines, err := vcs.ExecLines(context.Background(), c.opts.Timeout, absPath,
		"git", "rev-parse", "--git-dir", "--git-common-dir", "--show-toplevel")
	if err != nil {
		return vcs.ErrNotInVCS
	}

	if len(lines) < 3 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 3", len(lines))
	}

	gitDir := lines[0]
	commonDir := lines[1]
	root := lines[2]

	// Convert to absolute paths
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(absPath, commonDir)
	}

	c.gitDir = gitDir
	c.root = normalizeRoot(root)
	c.isWorktree = filepath.Clean(gitDir) != filepath.Clean(commonDir)
	return nil
}

// normalizeRoot resolves symlinks and converts to native separators
func normalizeRoot(path string) string {
	path = filepath.FromSlash(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	return path
}

// abs returns the native path of a working copy path
func (c *Connector) abs(p string) string {
	return filepath.Join(c.root, filepath.FromSlash(vcs.CleanPath(p)))
}

// ===================
// go-git access
// ===================

// repository opens the go-git view of the repository once
func (c *Connector) repository() (*gogit.Repository, error) {
	c.repoOnce.Do(func() {
		c.repo, c.repoErr = gogit.PlainOpenWithOptions(c.root, &gogit.PlainOpenOptions{
			DetectDotGit:          true,
			EnableDotGitCommonDir: true,
		})
		if c.repoErr != nil {
			c.repoErr = fmt.Errorf("failed to open repository: %w", c.repoErr)
		}
	})
	return c.repo, c.repoErr
}

// commit resolves rev to a commit. An empty revision is HEAD.
func (c *Connector) commit(rev vcs.Revision) (*object.Commit, error) {
	repo, err := c.repository()
	if err != nil {
		return nil, err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vcs.ErrRevisionNotFound, rev)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", rev, err)
	}
	return commit, nil
}

// subtree returns the tree of commit at p, or nil when p does not
// exist or is a file there
func subtree(commit *object.Commit, p string) (*object.Tree, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree of %s: %w", commit.Hash, err)
	}
	p = vcs.CleanPath(p)
	if p == "" {
		return tree, nil
	}
	sub, err := tree.Tree(p)
	if errors.Is(err, object.ErrDirectoryNotFound) {
		return nil, nil
	}
	return sub, err
}

// shortRev is used in messages
func shortRev(r vcs.Revision) string {
	s := string(r)
	if len(s) > 12 && !strings.ContainsAny(s, "/^~:") {
		return s[:12]
	}
	return r.String()
}
