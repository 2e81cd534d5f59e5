package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"price-ingest-alerts/internal/alerts"
	"price-ingest-alerts/internal/snapshot"
)

var (
	alertName      string
	alertRegion    string
	alertTarget    string
	alertCondition string
	alertRecipient string
)

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Manage price alerts",
}

var alertAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a price alert",
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := alertFromFlags()
		if err != nil {
			return err
		}

		created, err := getApp().AddAlert(cmd.Context(), alert)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "alert %d: %s %s %s\n", created.ID, created.Product, created.Condition, created.TargetPrice)
		return nil
	},
}

func alertFromFlags() (alerts.PendingAlert, error) {
	if alertName == "" || alertRegion == "" {
		return alerts.PendingAlert{}, fmt.Errorf("--name and --region must be provided")
	}
	target, err := decimal.NewFromString(alertTarget)
	if err != nil {
		return alerts.PendingAlert{}, fmt.Errorf("invalid --target value: %w", err)
	}
	condition, err := alerts.ParseCondition(alertCondition)
	if err != nil {
		return alerts.PendingAlert{}, err
	}
	return alerts.PendingAlert{
		Product:     snapshot.Identity{Name: alertName, Region: alertRegion},
		TargetPrice: target,
		Condition:   condition,
		Recipient:   alertRecipient,
	}, nil
}

func registerAlertFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&alertName, "name", "", "Product name")
	cmd.Flags().StringVar(&alertRegion, "region", "", "Product region")
	cmd.Flags().StringVar(&alertTarget, "target", "", "Target price")
	cmd.Flags().StringVar(&alertCondition, "condition", "ABOVE", "ABOVE or BELOW")
	cmd.Flags().StringVar(&alertRecipient, "recipient", "", "Email address or chat id to notify")
}

func init() {
	registerAlertFlags(alertAddCmd)
	alertCmd.AddCommand(alertAddCmd)
}
