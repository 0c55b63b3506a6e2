package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var periodId int

var closePeriodCmd = &cobra.Command{
	Use:   "close-period",
	Short: "Close an accounting period (irreversible)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if periodId <= 0 {
			return errors.New("--period-id is required")
		}
		ctx, err := tenantContext(cmd)
		if err != nil {
			return err
		}
		period, err := newEngine().ClosePeriod(ctx, periodId)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "period %s (%s to %s) closed\n", period.Name,
			period.StartDate.Format("2006-01-02"), period.EndDate.Format("2006-01-02"))
		return nil
	},
}

func init() {
	closePeriodCmd.Flags().IntVar(&periodId, "period-id", 0, "accounting period to close")
	rootCmd.AddCommand(closePeriodCmd)
}
