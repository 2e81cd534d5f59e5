package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().IngestOnce(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %s, %d new observations, %d products changed\n",
			res.CycleID, res.Outcome, res.Added, len(res.Changed))
		return err
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one alert evaluation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := getApp().EvaluateOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pending %d, triggered %d, notified %d, not found %d, failed %d\n",
			stats.Pending, stats.Triggered, stats.Notified, stats.NotFound, stats.Failed)
		return nil
	},
}
