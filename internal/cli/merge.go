package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-ingest-alerts/internal/app"
)

var (
	mergeDryRun bool
	mergeSync   bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge <staged.json>",
	Short: "Merge a staged snapshot file into the master store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := getApp().MergeFile(cmd.Context(), app.MergeOptions{
			Path:   args[0],
			DryRun: mergeDryRun,
			Sync:   mergeSync,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d new observations, %d new products\n", summary.Total(), len(summary.NewProducts))
		for _, id := range summary.Changed() {
			fmt.Fprintf(out, "  %s +%d\n", id, summary.Added[id])
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Compute the merge without writing the master store")
	mergeCmd.Flags().BoolVar(&mergeSync, "sync", false, "Sync the merged store to the database afterwards")
}
