package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/wcsync/wcsync/internal/vcs"
)

// StatusSource is the part of a connector the correlator needs
type StatusSource interface {
	MergeStatus(ctx context.Context, req vcs.MergeRequest, path string, opts vcs.MergeOptions, emit func(vcs.MergeStatus)) error
}

// Correlator fills a Set with backend merge statuses
type Correlator struct {
	Conn   StatusSource
	Logger *slog.Logger
}

// NewCorrelator creates a correlator over conn
func NewCorrelator(conn StatusSource, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{Conn: conn, Logger: logger}
}

// Run asks the backend for the merge status of every target of set and
// adds the entries to it. A failing target does not stop the others;
// cancellation is checked between targets.
func (c *Correlator) Run(ctx context.Context, set *Set) error {
	req, err := set.Shape.Request()
	if err != nil {
		return err
	}
	opts := set.Options.Backend()

	var result error
	for _, target := range set.Targets {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}

		before := set.Len()
		err := c.Conn.MergeStatus(ctx, req, target, opts, func(st vcs.MergeStatus) {
			set.Add(entryFromStatus(st))
		})
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to get merge status of %s: %w", target, err))
			continue
		}
		c.logger().Debug("merge status", "target", target, "kind", req.Kind, "entries", set.Len()-before)
	}
	return result
}

func (c *Correlator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
