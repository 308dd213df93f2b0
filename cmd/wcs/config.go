package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wcsync/wcsync/internal/config"
	"github.com/wcsync/wcsync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "maintenance",
	Short:   "Manage the wcs configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a config file with the default settings",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.FileName
		if len(args) == 1 {
			path = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if err := config.Default().WriteFile(path, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if format == "toml" {
			return cfg.WriteTOML(os.Stdout)
		}
		f, err := parseFormat(format)
		if err != nil {
			return err
		}
		if f == formatText {
			f = formatYAML
		}
		if cfg.Path() != "" {
			fmt.Fprintf(os.Stderr, "%s\n", ui.RenderMuted("# "+cfg.Path()))
		}
		return encode(os.Stdout, f, cfg)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().String("format", "yaml", "output format: yaml, json or toml")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
