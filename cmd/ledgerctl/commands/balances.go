package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var verifyBalancesCmd = &cobra.Command{
	Use:   "verify-balances",
	Short: "Compare stored balances with the ones derived from the ledgers",
	Long: `verify-balances replays every ledger entry of the tenant and reports
balances whose stored quantity or value differ. It changes nothing and
exits with an error when drift is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantContext(cmd)
		if err != nil {
			return err
		}
		drift, err := newEngine().VerifyBalances(ctx)
		if err != nil {
			return err
		}
		if len(drift) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "balances consistent")
			return nil
		}
		if err := printJSON(cmd, drift); err != nil {
			return err
		}
		return fmt.Errorf("%d balances drifted from the ledger", len(drift))
	},
}

var rebuildBalancesCmd = &cobra.Command{
	Use:   "rebuild-balances",
	Short: "Overwrite stored balances with the ones derived from the ledgers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, err := tenantContext(cmd)
		if err != nil {
			return err
		}
		fixed, err := newEngine().RebuildBalances(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "corrected %d balances\n", len(fixed))
		if len(fixed) > 0 {
			return printJSON(cmd, fixed)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyBalancesCmd)
	rootCmd.AddCommand(rebuildBalancesCmd)
}
