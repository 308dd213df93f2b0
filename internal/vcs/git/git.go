// Package git provides a git implementation of the vcs.Connector interface.
//
// Working copy mutations run the git binary (restore, rm, add, commit,
// merge, apply) so hooks, attributes and the index behave exactly as
// they do for the user. Read-only work that needs history, such as
// streaming old file content and computing merge status, goes through
// go-git without touching the working copy.
//
// Git has no versioned properties: the property calls return
// vcs.ErrNotSupported and the reconciliation core skips them.
package git

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/hashicorp/go-version"

	"github.com/wcsync/wcsync/internal/vcs"
)

// MinVersion is the oldest git release the connector accepts.
// merge --autostash appeared in 2.27.
const MinVersion = "2.27.0"

// DefaultTimeout bounds a single git command when Options.Timeout is zero
const DefaultTimeout = 2 * time.Minute

// Connector implements vcs.Connector for a git working copy.
type Connector struct {
	// root is the working copy root directory path
	root string

	// gitDir is the .git directory path (may differ for worktrees)
	gitDir string

	// isWorktree indicates a linked git worktree
	isWorktree bool

	opts   vcs.Options
	logger *slog.Logger

	repoOnce sync.Once
	repo     *gogit.Repository
	repoErr  error
}

var _ vcs.Connector = (*Connector)(nil)

// New creates a connector for the working copy containing path.
// It fails with vcs.ErrVCSNotAvailable when git is missing or older
// than MinVersion.
func New(path string, opts vcs.Options) (*Connector, error) {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{opts: opts, logger: logger}

	if err := checkVersion(); err != nil {
		return nil, err
	}
	if err := c.detect(path); err != nil {
		return nil, err
	}
	return c, nil
}

// Name returns the backend type (git)
func (c *Connector) Name() vcs.Type {
	return vcs.TypeGit
}

// Root returns the working copy root directory path
func (c *Connector) Root() string {
	return c.root
}

// IsWorktree reports whether the working copy is a linked worktree
func (c *Connector) IsWorktree() bool {
	return c.isWorktree
}

// ===================
// Version
// ===================

// Version returns the installed git version string
func Version() (string, error) {
	output, err := vcs.ExecContext(context.Background(), 10*time.Second, "", "git", "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get git version: %w", err)
	}
	return parseVersion(vcs.TrimOutput(output)), nil
}

// parseVersion extracts the version from "git version 2.39.0" or
// "git version 2.39.3 (Apple Git-145)"
func parseVersion(output string) string {
	output = strings.TrimPrefix(output, "git version ")
	if fields := strings.Fields(output); len(fields) > 0 {
		return fields[0]
	}
	return output
}

func checkVersion() error {
	raw, err := Version()
	if err != nil {
		return fmt.Errorf("%w: %v", vcs.ErrVCSNotAvailable, err)
	}
	return requireVersion(raw)
}

func requireVersion(raw string) error {
	got, err := version.NewVersion(raw)
	if err != nil {
		// vendor builds such as "2.39.GIT" do not parse; accept them
		return nil
	}
	if got.LessThan(version.Must(version.NewVersion(MinVersion))) {
		return fmt.Errorf("%w: git %s is older than %s", vcs.ErrVCSNotAvailable, raw, MinVersion)
	}
	return nil
}

// ===================
// Command execution
// ===================

// run executes a git command in the working copy root
func (c *Connector) run(ctx context.Context, args ...string) ([]byte, error) {
	start := time.Now()
	output, err := vcs.ExecContext(ctx, c.opts.Timeout, c.root, "git", args...)
	c.logger.Debug("git", "args", strings.Join(args, " "), "took", time.Since(start), "err", err)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w", firstArg(args), err)
	}
	return output, nil
}

// runInput is run with data fed to stdin
func (c *Connector) runInput(ctx context.Context, stdin []byte, args ...string) ([]byte, error) {
	start := time.Now()
	output, err := vcs.ExecInput(ctx, c.opts.Timeout, c.root, bytes.NewReader(stdin), "git", args...)
	c.logger.Debug("git", "args", strings.Join(args, " "), "took", time.Since(start), "err", err)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w", firstArg(args), err)
	}
	return output, nil
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// pathspecs converts working copy paths to git pathspecs. The root
// becomes ".".
func pathspecs(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = vcs.CleanPath(p)
		if p == "" {
			out = append(out, ".")
			continue
		}
		out = append(out, ":(literal)"+p)
	}
	return out
}

// withPaths appends "--" and the pathspecs of paths to args
func withPaths(args []string, paths ...string) []string {
	args = append(args, "--")
	return append(args, pathspecs(paths)...)
}
