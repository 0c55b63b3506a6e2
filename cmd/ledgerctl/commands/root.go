package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/threadworks/erp_backend/config"
	"github.com/threadworks/erp_backend/utils"
	"github.com/threadworks/erp_backend/workflow"
	"gorm.io/driver/sqlite"
)

var (
	tenantId   string
	sqlitePath string
)

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "Operate the inventory and production ledgers",
	Long: `ledgerctl runs maintenance jobs against the ledger database: schema
migration, master data seeding, balance verification and rebuild, period
close and valuation exports.

By default it connects to MySQL using the same DB_* variables as the API.
Pass --sqlite to work on a local SQLite file instead.`,
	PersistentPreRunE: connect,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func Execute() error {
	rootCmd.SilenceUsage = true
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&tenantId, "tenant", os.Getenv("LEDGER_TENANT_ID"), "tenant to operate on")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "use this SQLite file instead of MySQL")
}

func connect(cmd *cobra.Command, args []string) error {
	if config.GetDB() != nil {
		return nil
	}
	if sqlitePath != "" {
		db, err := config.OpenDatabase(sqlite.Open(sqlitePath))
		if err != nil {
			return fmt.Errorf("open sqlite %s: %w", sqlitePath, err)
		}
		config.SetDB(db)
	} else {
		config.ConnectDatabaseWithRetry()
	}
	config.ConnectRedisWithRetry(cmd.Context())
	return nil
}

// tenantContext is the context every tenant-scoped command runs in.
func tenantContext(cmd *cobra.Command) (context.Context, error) {
	if strings.TrimSpace(tenantId) == "" {
		return nil, errors.New("--tenant is required")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = utils.SetTenantIdInContext(ctx, strings.TrimSpace(tenantId))
	ctx = utils.SetUserNameInContext(ctx, "ledgerctl")
	return ctx, nil
}

func newEngine() *workflow.Engine {
	return workflow.NewEngine(config.LoadSettings())
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
