package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/wcsync/wcsync/internal/vcs"
)

// upstream returns the remote tracking branch of the current branch,
// e.g. "origin/main", or "" when none is configured.
func (c *Connector) upstream(ctx context.Context) (string, error) {
	output, err := vcs.ExecContext(ctx, c.opts.Timeout, c.root,
		"git", "rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		// no upstream, or detached HEAD
		return "", nil
	}
	return vcs.TrimOutput(output), nil
}

// fetch updates the remote tracking branch of upstream
func (c *Connector) fetch(ctx context.Context, upstream string) error {
	remote, _, ok := strings.Cut(upstream, "/")
	if !ok {
		return nil
	}
	if _, err := c.run(ctx, "fetch", "--quiet", remote); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", remote, err)
	}
	return nil
}

// latest fetches and returns the upstream tip, falling back to the
// local HEAD when the branch has no upstream.
func (c *Connector) latest(ctx context.Context) (string, error) {
	up, err := c.upstream(ctx)
	if err != nil {
		return "", err
	}
	if up == "" {
		return c.resolve(ctx, vcs.RevisionHead)
	}
	if err := c.fetch(ctx, up); err != nil {
		return "", err
	}
	return c.resolve(ctx, vcs.Revision(up))
}

// push sends the current branch to its upstream
func (c *Connector) push(ctx context.Context) error {
	up, err := c.upstream(ctx)
	if err != nil {
		return err
	}
	if up == "" {
		return vcs.ErrNoRemote
	}
	remote, branch, _ := strings.Cut(up, "/")

	ref, err := c.CurrentRef(ctx)
	if err != nil {
		return err
	}
	output, err := c.run(ctx, "push", "--porcelain", remote, "HEAD:refs/heads/"+branch)
	if err != nil {
		// Check for push rejection
		if strings.Contains(err.Error(), "rejected") || strings.Contains(string(output), "[rejected]") {
			return fmt.Errorf("failed to push %s: %w", ref, vcs.ErrPushRejected)
		}
		return fmt.Errorf("failed to push %s: %w", ref, err)
	}
	return nil
}

// outOfDate reports whether the upstream has commits HEAD lacks
func (c *Connector) outOfDate(ctx context.Context) (bool, error) {
	up, err := c.upstream(ctx)
	if err != nil || up == "" {
		return false, err
	}
	if err := c.fetch(ctx, up); err != nil {
		return false, err
	}
	d, err := c.divergence(ctx, "HEAD", up)
	if err != nil {
		return false, err
	}
	return d.RemoteAhead > 0, nil
}
