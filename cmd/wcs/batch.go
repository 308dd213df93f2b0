package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wcsync/wcsync/internal/ops"
	"github.com/wcsync/wcsync/internal/vcs"
)

var updateCmd = &cobra.Command{
	Use:     "update [paths...]",
	GroupID: "batch",
	Short:   "Update resources to a revision",
	Long: `Update resources to a revision (HEAD by default) in one backend call.

Conflicts left behind are mapped to the resource containing them; the other
resources are reported as processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}
		depth, err := parseDepth(mustString(cmd, "depth"))
		if err != nil {
			return err
		}
		w, err := openWorkspace(false)
		if err != nil {
			return err
		}
		resources, err := w.resources(args)
		if err != nil {
			return err
		}

		rev := vcs.Revision(mustString(cmd, "revision"))
		res, err := ops.NewRunner(w.conn, w.sink(), logger).Update(cmd.Context(), resources, rev, vcs.UpdateOptions{
			Depth:           depth,
			IgnoreExternals: cfg.IgnoreExternals || mustBool(cmd, "ignore-externals"),
		})
		if perr := printSummary(os.Stdout, format, "Updated", opsSummary(res, err)); perr != nil {
			return perr
		}
		return err
	},
}

var commitCmd = &cobra.Command{
	Use:     "commit [paths...]",
	GroupID: "batch",
	Short:   "Commit local changes of resources",
	Long: `Commit local changes of resources in one backend call.

Errors reported after the commit succeeded, such as a rejected push, are
printed as warnings and do not fail the command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(mustString(cmd, "format"))
		if err != nil {
			return err
		}
		message := mustString(cmd, "message")
		if message == "" {
			return fmt.Errorf("a commit message is required (-m)")
		}
		w, err := openWorkspace(false)
		if err != nil {
			return err
		}
		resources, err := w.resources(args)
		if err != nil {
			return err
		}

		res, err := ops.NewRunner(w.conn, w.sink(), logger).Commit(cmd.Context(), resources, message, vcs.CommitOptions{
			Depth:     vcs.DepthInfinity,
			KeepLocks: cfg.KeepLocks || mustBool(cmd, "keep-locks"),
			NoVerify:  mustBool(cmd, "no-verify"),
		})
		if perr := printSummary(os.Stdout, format, "Committed", opsSummary(res, err)); perr != nil {
			return perr
		}
		return err
	},
}

func init() {
	updateCmd.Flags().StringP("revision", "r", "", "revision to update to (default HEAD)")
	updateCmd.Flags().String("depth", "infinity", "depth: empty, immediates or infinity")
	updateCmd.Flags().Bool("ignore-externals", false, "skip external definitions")
	updateCmd.Flags().String("format", "text", "output format: text, yaml or json")
	rootCmd.AddCommand(updateCmd)

	commitCmd.Flags().StringP("message", "m", "", "commit message")
	commitCmd.Flags().Bool("keep-locks", false, "keep locks on committed paths")
	commitCmd.Flags().Bool("no-verify", false, "skip commit hooks")
	commitCmd.Flags().String("format", "text", "output format: text, yaml or json")
	rootCmd.AddCommand(commitCmd)
}
