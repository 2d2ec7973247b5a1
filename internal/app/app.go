// Package app assembles the prior-authorization components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/database"
	"github.com/prior-auth-mcp-server/internal/detection"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/extract"
	"github.com/prior-auth-mcp-server/internal/repository"
	"github.com/prior-auth-mcp-server/internal/service"
)

// App holds the wired workflow service and the resources it owns.
type App struct {
	Config  *domain.Config
	Service *service.PriorAuthService
	Audit   audit.Store
	Records domain.RecordRepository

	closers []func() error
	checks  []healthCheck
	logger  *logrus.Logger
}

type healthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// New opens the record store, audit store and detection backend and wires the workflow
// service. Everything opened before a failure is closed again.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	records, err := a.openRecords(ctx)
	if err != nil {
		return err
	}
	if cfg.Rules.LookupCacheSize > 0 {
		records = repository.NewCachedRecordRepository(records, cfg.Rules.LookupCacheSize, cfg.Rules.LookupCacheTTL, a.logger)
	}
	a.Records = records

	auditCfg := cfg.Audit
	if auditCfg.Driver == "postgres" && auditCfg.PostgresURL == "" {
		auditCfg.PostgresURL = database.ConfigFromDomain(cfg.Database).URL()
	}
	store, err := audit.NewStore(auditCfg)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	a.Audit = store
	a.closers = append(a.closers, store.Close)

	stack, err := detection.NewStack(cfg.Detection, cfg.Cache, a.logger)
	if err != nil {
		return fmt.Errorf("configuring detection: %w", err)
	}
	a.closers = append(a.closers, stack.Close)

	a.Service = service.NewPriorAuthService(
		service.NewIdentifierExtractor(extract.NewExtractor(cfg.Extraction.PdfToTextPath), a.logger),
		service.NewTreatmentResolver(records, a.logger),
		service.NewRuleEngine(records, cfg.Rules, a.logger),
		service.NewCorroborator(stack.Detector, cfg.Corroboration, cfg.Detection.Timeout, a.logger),
		store,
		a.logger,
		service.WithProofLedger(service.NewProofLedger(cfg.Proof)),
	)

	a.logger.WithFields(logrus.Fields{
		"records_driver": cfg.Database.Driver,
		"audit_driver":   auditCfg.Driver,
	}).Info("Prior-auth service initialized")

	return nil
}

func (a *App) openRecords(ctx context.Context) (domain.RecordRepository, error) {
	cfg := a.Config.Database
	switch cfg.Driver {
	case "", "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.checks = append(a.checks, healthCheck{name: "records", ping: db.PingContext})
		return repository.NewSQLiteRecordRepository(db, a.logger), nil

	case "postgres":
		dbCfg := database.ConfigFromDomain(cfg)
		if cfg.MigrateOnStart {
			if err := Migrate(ctx, dbCfg.URL(), a.logger); err != nil {
				return nil, err
			}
		}
		db, err := database.NewConnection(ctx, dbCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to records database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		a.checks = append(a.checks, healthCheck{name: "records", ping: db.Health})
		return repository.NewPostgresRecordRepository(db.Pool, a.logger), nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}

// Health pings every backing store and returns the outcome per component; a nil error
// means the component answered.
func (a *App) Health(ctx context.Context) map[string]error {
	results := make(map[string]error, len(a.checks))
	for _, c := range a.checks {
		results[c.name] = c.ping(ctx)
	}
	return results
}

// Migrate applies the embedded PostgreSQL migrations.
func Migrate(ctx context.Context, databaseURL string, logger *logrus.Logger) error {
	runner, err := database.NewMigrationRunner(databaseURL, logger)
	if err != nil {
		return fmt.Errorf("creating migration runner: %w", err)
	}
	defer runner.Close()

	if err := runner.Up(ctx); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
