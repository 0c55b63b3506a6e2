package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/threadworks/erp_backend/models"
	"github.com/threadworks/erp_backend/models/reports"
)

var (
	valuationLedger string
	valuationOut    string
	valuationGCS    bool
)

var exportValuationCmd = &cobra.Command{
	Use:   "export-valuation",
	Short: "Write the inventory valuation report as xlsx",
	Long: `export-valuation writes the valuation of every non-empty balance to an
xlsx file (--out) or uploads it to GCS_BUCKET (--gcs).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if valuationOut == "" && !valuationGCS {
			return errors.New("one of --out or --gcs is required")
		}
		ledger := models.LedgerType(strings.ToUpper(valuationLedger))
		if ledger != "" && !ledger.IsValid() {
			return fmt.Errorf("unknown ledger %q", valuationLedger)
		}
		ctx, err := tenantContext(cmd)
		if err != nil {
			return err
		}
		report, err := reports.GetInventoryValuationReport(ctx, ledger)
		if err != nil {
			return err
		}
		if valuationGCS {
			uri, err := reports.ExportValuationToGCS(ctx, strings.TrimSpace(tenantId), report)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		}
		f, err := os.Create(valuationOut)
		if err != nil {
			return err
		}
		if err := reports.WriteValuationExcel(report, f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d rows, total %s written to %s\n", len(report.Rows), report.GrandTotal.StringFixed(2), valuationOut)
		return nil
	},
}

func init() {
	exportValuationCmd.Flags().StringVar(&valuationLedger, "ledger", "", "RM, WIP or FG (default all)")
	exportValuationCmd.Flags().StringVar(&valuationOut, "out", "", "xlsx file to write")
	exportValuationCmd.Flags().BoolVar(&valuationGCS, "gcs", false, "upload to GCS_BUCKET instead of a local file")
	rootCmd.AddCommand(exportValuationCmd)
}
