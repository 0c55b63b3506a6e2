package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/workflow"
)

var drainOutboxCmd = &cobra.Command{
	Use:   "drain-outbox",
	Short: "Publish every due ledger event and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		d := workflow.NewOutboxDispatcher(config.GetDB(), config.GetLogger(), config.NewPubSubLedgerPublisher())
		total := 0
		for {
			n, err := d.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d ledger events handled\n", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(drainOutboxCmd)
}
