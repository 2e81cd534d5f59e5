package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateCurrent string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Dispatch a synthetic alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := alertFromFlags()
		if err != nil {
			return err
		}
		current, err := decimal.NewFromString(simulateCurrent)
		if err != nil {
			return fmt.Errorf("invalid --current value: %w", err)
		}

		stats, err := getApp().SimulateAlert(cmd.Context(), alert, current)
		if err != nil {
			return err
		}
		if stats.Notified == 0 {
			return fmt.Errorf("dispatch failed; see logs")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "alert dispatched")
		return nil
	},
}

func init() {
	registerAlertFlags(simulateCmd)
	simulateCmd.Flags().StringVar(&simulateCurrent, "current", "", "Current price to evaluate against")
}
