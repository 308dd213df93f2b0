package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wcsync/wcsync/internal/config"
	"github.com/wcsync/wcsync/internal/logging"
	"github.com/wcsync/wcsync/internal/ui"
	"github.com/wcsync/wcsync/internal/vcs"

	// backends register themselves
	_ "github.com/wcsync/wcsync/internal/vcs/git"
)

var (
	// cfgFile is the --config flag
	cfgFile string

	// cfg holds the effective settings once PersistentPreRunE ran
	cfg *config.Config

	// logger is the command logger; closeLog flushes its file
	logger   *slog.Logger
	closeLog = func() error { return nil }

	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "wcs",
	Short: "Reconcile a working copy with its backend without losing local edits",
	Long: `wcs reconciles local resources of a working copy with the version control
backend. Uncommitted local edits survive every step: they are captured before
the working copy is reverted and updated, and restored afterwards.

Configuration is read from wcs.toml (current directory or $XDG_CONFIG_HOME/wcs),
WCS_* environment variables and flags, in increasing order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		noColor, _ := cmd.Flags().GetBool("no-color")
		if noColor {
			ui.DisableColor()
		}
		level, _ := cfg.LogLevel()
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = logging.New(logging.Options{
			Level:      level,
			NoColor:    noColor,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		logger.Debug("configuration loaded", "file", cfg.Path(), "backend", cfg.Backend)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLog()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "reconcile", Title: "Reconciliation:"},
		&cobra.Group{ID: "batch", Title: "Batch operations:"},
		&cobra.Group{ID: "merge", Title: "Merging:"},
		&cobra.Group{ID: "maintenance", Title: "Maintenance:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default wcs.toml)")
	flags.StringP("root", "C", "", "working copy root (default current directory)")
	flags.String("backend", "", "backend type: auto or git")
	flags.String("scratch-dir", "", "directory for snapshot storage")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.Bool("no-color", false, "disable colours")

	_ = v.BindPFlag("root", flags.Lookup("root"))
	_ = v.BindPFlag("backend", flags.Lookup("backend"))
	_ = v.BindPFlag("scratch_dir", flags.Lookup("scratch-dir"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
}

func main() {
	os.Exit(run())
}

// run executes the command line and returns the process exit code.
// Signal handling is released before the process exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, os.Stderr, os.Args[1:])
}

// execute runs rootCmd with args and prints a failure to stderr
func execute(ctx context.Context, stderr io.Writer, args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		if hint := errorHint(err); hint != "" {
			fmt.Fprintf(stderr, "%s\n", ui.RenderMuted(hint))
		}
		return 1
	}
	return 0
}

// errorHint suggests what to do next about a failed command
func errorHint(err error) string {
	switch {
	case vcs.IsFatal(err):
		return "Run wcs inside a working copy whose backend is installed (git 2.27 or newer)."
	case vcs.IsUserActionRequired(err):
		return "Resolve the reported conflicts, then run the command again."
	case vcs.IsRetryable(err):
		return "The backend may accept the operation if you run it again."
	}
	return ""
}
