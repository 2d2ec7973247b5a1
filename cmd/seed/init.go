package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prior-auth-mcp-server/internal/app"
	"github.com/prior-auth-mcp-server/internal/database"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the lookup schema",
	Long:  "Creates the SQLite lookup tables, or applies the embedded PostgreSQL migrations (lookup tables and audit log).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		switch cfg.Database.Driver {
		case "", "sqlite":
			db, err := database.OpenSQLite(ctx, cfg.Database.SQLitePath, logger)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("SQLite schema ready at %s\n", cfg.Database.SQLitePath)
			return nil

		case "postgres":
			if err := app.Migrate(ctx, database.ConfigFromDomain(cfg.Database).URL(), logger); err != nil {
				return err
			}
			fmt.Println("PostgreSQL migrations applied")
			return nil

		default:
			return fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
		}
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "migrate-down",
	Short: "Roll back the last PostgreSQL migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrate-down requires the postgres driver")
		}

		runner, err := database.NewMigrationRunner(database.ConfigFromDomain(cfg.Database).URL(), logger)
		if err != nil {
			return err
		}
		defer runner.Close()

		if err := runner.Down(cmd.Context()); err != nil {
			return err
		}
		version, dirty, err := runner.Version()
		if err != nil {
			fmt.Println("All migrations rolled back")
			return nil
		}
		fmt.Printf("Schema at version %d (dirty=%t)\n", version, dirty)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(migrateDownCmd)
}
