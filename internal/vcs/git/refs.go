package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/wcsync/wcsync/internal/vcs"
)

// CurrentRef returns the current branch name.
// Returns empty string if in detached HEAD state.
func (c *Connector) CurrentRef(ctx context.Context) (string, error) {
	output, err := vcs.ExecContext(ctx, c.opts.Timeout, c.root, "git", "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if vcs.GetExitCode(err) == 1 {
			return "", nil // Detached HEAD
		}
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return vcs.TrimOutput(output), nil
}

// headRevision returns the commit HEAD points to, or "" on an unborn
// branch
func (c *Connector) headRevision(ctx context.Context) (vcs.Revision, error) {
	hash, err := c.revParse(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	return vcs.Revision(hash), nil
}

// revParse resolves ref to a commit hash. A ref that does not exist
// resolves to "".
func (c *Connector) revParse(ctx context.Context, ref string) (string, error) {
	output, err := vcs.ExecContext(ctx, c.opts.Timeout, c.root, "git", "rev-parse", "--verify", "-q", ref+"^{commit}")
	if err != nil {
		if vcs.GetExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("failed to resolve ref %s: %w", ref, err)
	}
	return vcs.TrimOutput(output), nil
}

// resolve turns a backend revision into a commit hash
func (c *Connector) resolve(ctx context.Context, rev vcs.Revision) (string, error) {
	hash, err := c.revParse(ctx, rev.String())
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", fmt.Errorf("%w: %s", vcs.ErrRevisionNotFound, rev)
	}
	return hash, nil
}

// Divergence counts commits on each side of two refs
type Divergence struct {
	// LocalAhead is the number of commits in local but not in remote
	LocalAhead int

	// RemoteAhead is the number of commits in remote but not in local
	RemoteAhead int
}

// IsDiverged reports whether both sides have commits of their own
func (d Divergence) IsDiverged() bool {
	return d.LocalAhead > 0 && d.RemoteAhead > 0
}

// divergence checks how local and remote refs relate
func (c *Connector) divergence(ctx context.Context, local, remote string) (Divergence, error) {
	output, err := c.run(ctx, "rev-list", "--left-right", "--count", local+"..."+remote)
	if err != nil {
		return Divergence{}, fmt.Errorf("failed to count divergence: %w", err)
	}
	fields := strings.Fields(vcs.TrimOutput(output))
	if len(fields) != 2 {
		return Divergence{}, fmt.Errorf("unexpected rev-list output %q", vcs.TrimOutput(output))
	}
	var d Divergence
	if d.LocalAhead, err = strconv.Atoi(fields[0]); err != nil {
		return Divergence{}, fmt.Errorf("failed to parse rev-list output: %w", err)
	}
	if d.RemoteAhead, err = strconv.Atoi(fields[1]); err != nil {
		return Divergence{}, fmt.Errorf("failed to parse rev-list output: %w", err)
	}
	return d, nil
}
