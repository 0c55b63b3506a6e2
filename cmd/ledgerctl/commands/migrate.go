package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/models"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := models.MigrateTable(config.GetDB()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
