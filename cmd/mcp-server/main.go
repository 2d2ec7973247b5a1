// Package main is the MCP entry point. It needs no external database: lookups and the audit
// trail live in SQLite files, and logs go to stderr so stdout stays free for the protocol.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/prior-auth-mcp-server/internal/app"
	"github.com/prior-auth-mcp-server/internal/config"
	"github.com/prior-auth-mcp-server/internal/logging"
	"github.com/prior-auth-mcp-server/internal/mcp"
)

func main() {
	log.SetOutput(os.Stderr)

	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cmd := newSetupCmd()
		cmd.SetArgs(os.Args[2:])
		if err := cmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}

	// Load lightweight configuration
	lite := config.LoadLiteConfig()
	if err := lite.EnsureDataDir(); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	cfg := lite.ToConfig()
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.WithField("data_dir", lite.DataDir).Info("Starting prior-auth MCP server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize prior-auth service")
	}
	defer application.Close()

	server := mcp.NewServer(cfg.MCP, application.Service, application.Audit, logger,
		mcp.WithReportDir(lite.ReportDir()),
		mcp.WithPolicy(cfg.Rules, cfg.Corroboration))

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("MCP server failed")
		application.Close()
		os.Exit(1)
	}

	logger.Info("Prior-auth MCP server stopped")
}
