package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/prior-auth-mcp-server/internal/database"
	"github.com/prior-auth-mcp-server/internal/repository"
	"github.com/prior-auth-mcp-server/internal/seed"
)

var loadCmd = &cobra.Command{
	Use:   "load <table> <file>",
	Short: "Load one lookup table from a CSV or XLSX file",
	Long:  "Loads patients, insurance, providers or treatments. Patients, insurance and providers are upserted by key; treatments are appended.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		table, err := seed.ParseTable(args[0])
		if err != nil {
			return err
		}

		loader, closeLoader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer closeLoader()

		return loadFile(ctx, loader, table, args[1])
	},
}

var loadDirCmd = &cobra.Command{
	Use:   "load-dir <dir>",
	Short: "Load every lookup table found in a directory",
	Long:  "Looks for <table>.csv, <table>.xlsx, <table>_table.csv or <table>_table.xlsx for each lookup table and loads those present.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loader, closeLoader, err := openLoader(ctx)
		if err != nil {
			return err
		}
		defer closeLoader()

		found := 0
		for _, table := range seed.Tables {
			path := findTableFile(args[0], table)
			if path == "" {
				logger.WithField("table", table).Warn("No file found for table")
				continue
			}
			if err := loadFile(ctx, loader, table, path); err != nil {
				return err
			}
			found++
		}
		if found == 0 {
			return fmt.Errorf("no lookup files found in %s", args[0])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(loadDirCmd)
}

func loadFile(ctx context.Context, loader seed.Loader, table seed.Table, path string) error {
	sheet, err := seed.ReadFile(ctx, path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	n, err := seed.Load(ctx, loader, table, sheet, logger)
	if err != nil {
		return err
	}
	fmt.Printf("%s: loaded %d rows from %s\n", table, n, path)
	return nil
}

// openLoader opens the configured lookup database for writing.
func openLoader(ctx context.Context) (seed.Loader, func(), error) {
	switch cfg.Database.Driver {
	case "", "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.Database.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteRecordRepository(db, logger), func() { db.Close() }, nil

	case "postgres":
		db, err := database.NewConnection(ctx, database.ConfigFromDomain(cfg.Database), logger)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRecordRepository(db.Pool, logger), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %q", cfg.Database.Driver)
	}
}

func findTableFile(dir string, table seed.Table) string {
	base := strings.TrimSuffix(string(table), "s")
	candidates := []string{string(table), base + "_table", base}
	for _, name := range candidates {
		for _, ext := range []string{".csv", ".xlsx"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
