package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-ingest-alerts/internal/app"
	"price-ingest-alerts/internal/snapshot"
)

var (
	exportName      string
	exportRegion    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one product's price history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportName == "" || exportRegion == "" {
			return fmt.Errorf("--name and --region must be provided")
		}

		opts := app.ExportOptions{
			Product:   snapshot.Identity{Name: exportName, Region: exportRegion},
			From:      exportFrom,
			To:        exportTo,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportName, "name", "", "Product name")
	exportCmd.Flags().StringVar(&exportRegion, "region", "", "Product region")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First date to include (YYYY-MM-DD or DD/MM/YYYY)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last date to include (YYYY-MM-DD or DD/MM/YYYY)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
