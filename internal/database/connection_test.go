package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) Config {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return Config{
		Host:        host,
		Port:        port.Int(),
		Database:    "testdb",
		Username:    "testuser",
		Password:    "testpass",
		MaxConns:    10,
		MinConns:    2,
		MaxConnLife: time.Hour,
		MaxConnIdle: time.Minute * 30,
		SSLMode:     "disable",
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestDatabaseConnection(t *testing.T) {
	ctx := context.Background()
	config := startPostgres(t)

	db, err := NewConnection(ctx, config, quietLogger())
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	if err := db.Health(ctx); err != nil {
		t.Fatalf("Database health check failed: %v", err)
	}

	stats := db.Pool.Stat()
	if stats.TotalConns() == 0 {
		t.Error("Expected at least one connection in pool")
	}
}

func TestMigrationRunner_UpAndDown(t *testing.T) {
	ctx := context.Background()
	config := startPostgres(t)
	logger := quietLogger()

	runner, err := NewMigrationRunner(config.URL(), logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	if err := runner.Up(ctx); err != nil {
		t.Fatalf("Migrations up failed: %v", err)
	}
	// A second run is a no-op.
	if err := runner.Up(ctx); err != nil {
		t.Fatalf("Repeated migrations up failed: %v", err)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		t.Fatalf("Failed to read version: %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("Expected clean version 2, got %d (dirty=%v)", version, dirty)
	}

	db, err := NewConnection(ctx, config, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}
	defer db.Close()

	for _, table := range []string{"patient_table", "insurance_table", "provider_table", "treatment_table", "audit_log"} {
		var exists bool
		err := db.Pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table).Scan(&exists)
		if err != nil || !exists {
			t.Fatalf("Expected table %s to exist (err=%v)", table, err)
		}
	}

	_, err = db.Pool.Exec(ctx, "INSERT INTO audit_log (entry_id) VALUES ('e-1')")
	if err != nil {
		t.Fatalf("Insert into audit_log failed: %v", err)
	}
	if _, err := db.Pool.Exec(ctx, "DELETE FROM audit_log"); err == nil {
		t.Fatal("Expected delete from audit_log to be rejected")
	}

	if err := runner.Down(ctx); err != nil {
		t.Fatalf("Migration down failed: %v", err)
	}
	version, _, err = runner.Version()
	if err != nil || version != 1 {
		t.Fatalf("Expected version 1 after down, got %d (err=%v)", version, err)
	}
}
