package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wcsync/wcsync/internal/merge"
	"github.com/wcsync/wcsync/internal/ops"
	"github.com/wcsync/wcsync/internal/reconcile"
	"github.com/wcsync/wcsync/internal/vcs"
)

var markMergedCmd = &cobra.Command{
	Use:     "mark-merged [paths...]",
	GroupID: "reconcile",
	Short:   "Bring resources to the remote revision keeping local edits",
	Long: `Mark local resources as merged with the backend.

For every resource, parents first:
  1. Local content and properties are captured to scratch storage
  2. The resource is reverted and stripped of unversioned entries
  3. It is updated to the remote revision
  4. With --override, the local structure is committed over the remote one
  5. The captured edits are put back

The result lists the resources ready to be committed and those whose node
kind changed between file and folder.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		override, _ := cmd.Flags().GetBool("override")
		return runReconcile(cmd, args, override, false)
	},
}

var overrideCommitCmd = &cobra.Command{
	Use:     "override-commit [paths...]",
	GroupID: "reconcile",
	Short:   "Replace the remote version of resources with the local one",
	Long: `Force the local version of resources onto the backend.

The resources are reconciled in override mode against HEAD, updated once
more so child entries pick up a replaced node kind, and the restored local
edits are committed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReconcile(cmd, args, true, true)
	},
}

func runReconcile(cmd *cobra.Command, args []string, override, commitAfter bool) error {
	format, err := parseFormat(mustString(cmd, "format"))
	if err != nil {
		return err
	}
	message := mustString(cmd, "message")
	if message == "" {
		message = cfg.OverrideMessage
	}
	if override && message == "" {
		return fmt.Errorf("a commit message is required in override mode")
	}

	w, err := openWorkspace(true)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("failed to release workspace", "error", err)
		}
	}()

	resources, err := w.resources(args)
	if err != nil {
		return err
	}
	opts := reconcile.Options{
		Override:        override,
		Message:         message,
		KeepLocks:       cfg.KeepLocks || mustBool(cmd, "keep-locks"),
		IgnoreExternals: cfg.IgnoreExternals || mustBool(cmd, "ignore-externals"),
		Preserve:        cfg.Preserve,
		Sink:            w.sink(),
		Logger:          logger,
	}
	opts.Scope, err = mergeScope(cmd, w, resources)
	if err != nil {
		return err
	}

	var orch *reconcile.Orchestrator
	if commitAfter {
		orch = reconcile.NewOverrideAndCommit(w.conn, w.tree, w.store, opts)
	} else {
		orch = reconcile.NewMarkAsMerged(w.conn, w.tree, w.store, opts)
	}
	res := orch.Run(cmd.Context(), resources)
	if err := printSummary(os.Stdout, format, "Reconciled", reconcileSummary(res)); err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	if !commitAfter {
		return nil
	}

	committables := append(append([]string{}, res.Committables...), res.WithDifferentNodeKind...)
	if len(committables) == 0 {
		return nil
	}
	runner := ops.NewRunner(w.conn, w.sink(), logger)
	cres, err := runner.Commit(cmd.Context(), committables, message, vcs.CommitOptions{
		Depth:     vcs.DepthInfinity,
		KeepLocks: opts.KeepLocks,
	})
	if perr := printSummary(os.Stdout, format, "Committed", opsSummary(cres, err)); perr != nil {
		return perr
	}
	return err
}

// mergeScope computes the merge scope of resources named by
// --merge-source, if any
func mergeScope(cmd *cobra.Command, w *workspace, resources []string) (*merge.Set, error) {
	if !cmd.Flags().Changed("merge-source") {
		return nil, nil
	}
	flags, err := mergeFlagsFrom(cmd, "merge-")
	if err != nil {
		return nil, err
	}
	set, err := flags.newSet(resources)
	if err != nil {
		return nil, err
	}
	if err := merge.NewCorrelator(w.conn, logger).Run(cmd.Context(), set); err != nil {
		return nil, err
	}
	return set, nil
}

func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

func mustBool(cmd *cobra.Command, name string) bool {
	b, _ := cmd.Flags().GetBool(name)
	return b
}

func init() {
	for _, c := range []*cobra.Command{markMergedCmd, overrideCommitCmd} {
		c.Flags().StringP("message", "m", "", "commit message for override mode (default from config)")
		c.Flags().Bool("keep-locks", false, "keep locks on committed paths")
		c.Flags().Bool("ignore-externals", false, "skip external definitions during update")
		c.Flags().String("format", "text", "output format: text, yaml or json")
		addMergeFlags(c, "merge-")
		rootCmd.AddCommand(c)
	}
	markMergedCmd.Flags().Bool("override", false, "commit the local structure over the remote one")
}
