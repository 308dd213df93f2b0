package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wcsync/wcsync/internal/snapshot"
	"github.com/wcsync/wcsync/internal/ui"
)

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots",
	GroupID: "maintenance",
	Short:   "Inspect snapshot entries left behind by interrupted runs",
	Long: `Inspect the snapshot ledger.

Every captured file or folder is recorded in the ledger (the "ledger" config
key) and marked disposed once restored. Entries still outstanding belong to
a run that did not finish; their captured content is still in scratch
storage and can be recovered from the listed location or purged.`,
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding snapshot entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		records, err := ledger.Outstanding(cmd.Context())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Printf("%s No outstanding snapshot entries\n", ui.RenderPass("✓"))
			return nil
		}

		fmt.Printf("\n%s %d outstanding snapshot entries\n\n", ui.RenderWarn("⚠"), len(records))
		for _, rec := range records {
			fmt.Printf("%s %s\n", ui.RenderAccent(rec.Kind.String()), rec.Source)
			fmt.Printf("   Location: %s\n", rec.Location)
			fmt.Printf("   Scratch: %s\n", rec.Root)
			fmt.Printf("   Size: %s, captured %s (run %s)\n",
				humanize.Bytes(uint64(rec.Size)), humanize.Time(rec.CreatedAt), shortID(rec.RunID))
		}
		fmt.Println()
		return nil
	},
}

var snapshotsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove the storage of outstanding snapshot entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		var cutoff time.Time
		if olderThan > 0 {
			cutoff = time.Now().Add(-olderThan)
		}
		purged, err := ledger.Purge(cmd.Context(), cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("%s Purged %s\n", ui.RenderPass("✓"), pluralEntries(purged))
		return nil
	},
}

func openLedger() (*snapshot.Ledger, error) {
	if cfg.Ledger == "" {
		return nil, fmt.Errorf("no snapshot ledger configured (set \"ledger\" in %s or WCS_LEDGER)", cfgName())
	}
	if _, err := os.Stat(cfg.Ledger); err != nil {
		return nil, fmt.Errorf("failed to open snapshot ledger: %w", err)
	}
	return snapshot.OpenLedger(cfg.Ledger)
}

func cfgName() string {
	if cfg.Path() != "" {
		return cfg.Path()
	}
	return "wcs.toml"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func pluralEntries(n int) string {
	if n == 1 {
		return "1 entry"
	}
	return humanize.Comma(int64(n)) + " entries"
}

func init() {
	snapshotsPurgeCmd.Flags().Duration("older-than", 0, "only purge entries captured longer ago than this")
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsPurgeCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
