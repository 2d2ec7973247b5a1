package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// sqliteLookupSchema mirrors the postgres lookup migration. Existing databases keep their own
// column types; SQLite matches table and column names case-insensitively.
const sqliteLookupSchema = `
CREATE TABLE IF NOT EXISTS patient_table (
	patient_id TEXT PRIMARY KEY,
	age TEXT,
	insurance_id TEXT
);

CREATE TABLE IF NOT EXISTS insurance_table (
	insurance_id TEXT PRIMARY KEY,
	claim_date TEXT
);

CREATE TABLE IF NOT EXISTS provider_table (
	rndrng_npi INTEGER PRIMARY KEY,
	start_date TEXT,
	end_date TEXT,
	rndrng_prvdr_type TEXT,
	tot_srvcs TEXT,
	tot_benes TEXT
);

CREATE TABLE IF NOT EXISTS treatment_table (
	treatment_name TEXT NOT NULL,
	icd10_code TEXT NOT NULL
);
`

// OpenSQLite opens the lookup database at path, creating the file and any missing tables.
func OpenSQLite(ctx context.Context, path string, logger *logrus.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteLookupSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating lookup tables: %w", err)
	}

	logger.WithField("path", path).Info("Lookup database opened")
	return db, nil
}
