package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/ops"
	"github.com/wcsync/wcsync/internal/vcs"
)

var mergeStatusCmd = &cobra.Command{
	Use:     "merge-status [paths...]",
	GroupID: "merge",
	Short:   "Show what a merge would change below each path",
	Long: `Show the merge status of each path for a merge source.

The source is given as path@revision; "." as path means the same folder as
each target, an empty revision means HEAD. Exactly one shape is used:

  --range A:B / --change N   merge revision ranges of the source
  --end path@revision        merge the difference between source and end
  --reintegrate              merge the source branch back

Example:
  wcs merge-status --source .@feature --reintegrate docs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}
		flags, err := mergeFlagsFrom(cmd, "")
		if err != nil {
			return err
		}
		w, err := openWorkspace(false)
		if err != nil {
			return err
		}
		targets, err := w.resources(args)
		if err != nil {
			return err
		}
		set, err := flags.newSet(targets)
		if err != nil {
			return err
		}
		runErr := merge.NewCorrelator(w.conn, logger).Run(cmd.Context(), set)
		if err := printStatuses(os.Stdout, format, set.Statuses()); err != nil {
			return err
		}
		return runErr
	},
}

var mergeCmd = &cobra.Command{
	Use:     "merge [paths...]",
	GroupID: "merge",
	Short:   "Merge a source into the paths that have something to merge",
	Long: `Merge a source into the working copy.

The merge status is computed first; paths without entries are left alone
and nothing is sent to the backend when no path has entries. Conflicts are
reported per resource. Flags are those of merge-status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}
		flags, err := mergeFlagsFrom(cmd, "")
		if err != nil {
			return err
		}
		w, err := openWorkspace(false)
		if err != nil {
			return err
		}
		targets, err := w.resources(args)
		if err != nil {
			return err
		}
		set, err := flags.newSet(targets)
		if err != nil {
			return err
		}
		if err := merge.NewCorrelator(w.conn, logger).Run(cmd.Context(), set); err != nil {
			return err
		}

		res, err := ops.NewRunner(w.conn, w.sink(), logger).Merge(cmd.Context(), set)
		if perr := printSummary(os.Stdout, format, "Merged", opsSummary(res, err)); perr != nil {
			return perr
		}
		return err
	},
}

// ===================
// Merge flags
// ===================

// mergeFlags is the parsed form of the merge source flags
type mergeFlags struct {
	source      vcs.EntryRef
	end         *vcs.EntryRef
	ranges      []vcs.RevisionRange
	reintegrate bool
	opts        merge.Options
}

// addMergeFlags registers the merge source flags on c, each name
// prefixed with prefix
func addMergeFlags(c *cobra.Command, prefix string) {
	f := c.Flags()
	f.String(prefix+"source", "", "merge source as path@revision")
	f.StringSlice(prefix+"range", nil, "revision range A:B of the source (repeatable)")
	f.StringSlice(prefix+"change", nil, "single change N of the source (repeatable)")
	f.String(prefix+"end", "", "end of a two-source merge as path@revision")
	f.Bool(prefix+"reintegrate", false, "merge the source branch back")
	f.Bool(prefix+"record-only", false, "record the merge without changing content")
	f.Bool(prefix+"ignore-ancestry", false, "compare sources as unrelated trees")
	f.String(prefix+"depth", "infinity", "depth: empty, immediates or infinity")
}

// mergeFlagsFrom reads the flags registered by addMergeFlags
func mergeFlagsFrom(cmd *cobra.Command, prefix string) (mergeFlags, error) {
	f := cmd.Flags()
	var out mergeFlags

	source, _ := f.GetString(prefix + "source")
	if source == "" {
		return out, fmt.Errorf("--%ssource is required", prefix)
	}
	out.source = parseEntryRef(source)

	if end, _ := f.GetString(prefix + "end"); end != "" {
		ref := parseEntryRef(end)
		out.end = &ref
	}
	ranges, _ := f.GetStringSlice(prefix + "range")
	for _, r := range ranges {
		rr, err := parseRange(r)
		if err != nil {
			return out, err
		}
		out.ranges = append(out.ranges, rr)
	}
	changes, _ := f.GetStringSlice(prefix + "change")
	for _, c := range changes {
		out.ranges = append(out.ranges, vcs.RevisionRange{From: vcs.Revision(c), To: vcs.Revision(c)})
	}
	out.reintegrate, _ = f.GetBool(prefix + "reintegrate")

	shapes := 0
	if out.end != nil {
		shapes++
	}
	if len(out.ranges) > 0 {
		shapes++
	}
	if out.reintegrate {
		shapes++
	}
	if shapes != 1 {
		return out, fmt.Errorf("exactly one of --%[1]srange/--%[1]schange, --%[1]send or --%[1]sreintegrate is required", prefix)
	}

	depth, _ := f.GetString(prefix + "depth")
	d, err := parseDepth(depth)
	if err != nil {
		return out, err
	}
	out.opts.Depth = d
	out.opts.RecordOnly, _ = f.GetBool(prefix + "record-only")
	out.opts.IgnoreAncestry, _ = f.GetBool(prefix + "ignore-ancestry")
	return out, nil
}

// shape returns the merge shape named by the flags
func (m mergeFlags) shape() merge.Shape {
	switch {
	case m.end != nil:
		return merge.DualReference{Start: m.source, End: *m.end}
	case m.reintegrate:
		return merge.Reintegrate{Source: m.source}
	default:
		return merge.SingleReference{Source: m.source, Ranges: m.ranges}
	}
}

// newSet creates a merge set over targets, checking the shape first
func (m mergeFlags) newSet(targets []string) (*merge.Set, error) {
	shape := m.shape()
	if _, err := shape.Request(); err != nil {
		return nil, err
	}
	return merge.NewSet(shape, targets, m.opts), nil
}

// parseEntryRef parses path@revision. A missing revision means HEAD
// and a missing path means the target folder.
func parseEntryRef(s string) vcs.EntryRef {
	p, rev := s, ""
	if i := strings.LastIndex(s, "@"); i >= 0 {
		p, rev = s[:i], s[i+1:]
	}
	if p == "" {
		p = "."
	}
	return vcs.EntryRef{Path: p, Revision: vcs.Revision(rev)}
}

// parseRange parses A:B
func parseRange(s string) (vcs.RevisionRange, error) {
	from, to, ok := strings.Cut(s, ":")
	if !ok || from == "" || to == "" {
		return vcs.RevisionRange{}, fmt.Errorf("invalid revision range %q (want A:B)", s)
	}
	return vcs.RevisionRange{From: vcs.Revision(from), To: vcs.Revision(to)}, nil
}

func parseDepth(s string) (vcs.Depth, error) {
	for _, d := range []vcs.Depth{vcs.DepthEmpty, vcs.DepthImmediates, vcs.DepthInfinity} {
		if strings.EqualFold(s, d.String()) {
			return d, nil
		}
	}
	return vcs.DepthInfinity, fmt.Errorf("invalid depth %q (want empty, immediates or infinity)", s)
}

func init() {
	for _, c := range []*cobra.Command{mergeStatusCmd, mergeCmd} {
		addMergeFlags(c, "")
		c.Flags().String("format", "text", "output format: text, yaml or json")
		rootCmd.AddCommand(c)
	}
}
