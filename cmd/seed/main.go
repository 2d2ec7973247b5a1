// Command seed prepares the lookup database: it creates the schema and bulk-loads the
// patient, insurance, provider and treatment tables from CSV or XLSX exports.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/prior-auth-mcp-server/internal/config"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/logging"
)

var (
	cfg    *domain.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "seed",
	Short: "Prepare the prior-authorization lookup database",
	Long:  "Creates the lookup schema (SQLite or PostgreSQL migrations) and loads the lookup tables from CSV or XLSX files.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		manager, err := config.NewManager()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = manager.GetConfig()

		if path, _ := cmd.Flags().GetString("sqlite-path"); path != "" {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLitePath = path
		}

		l, err := logging.NewLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", "", "load into this SQLite file instead of the configured database")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
