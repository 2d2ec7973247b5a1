package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	opts   options
}

// NewSQLiteStore creates a new SQLite audit store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
		opts:   buildOptions(opts),
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// createSchema creates the audit table and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entry_id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		patient_id TEXT NOT NULL DEFAULT '',
		treatment_name TEXT NOT NULL DEFAULT '',
		icd10_code TEXT NOT NULL DEFAULT '',
		provider_npi TEXT NOT NULL DEFAULT '',
		rule_status TEXT NOT NULL DEFAULT '',
		proof_status TEXT NOT NULL DEFAULT '',
		final_decision TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_patient ON audit_log(patient_id);
	CREATE INDEX IF NOT EXISTS idx_audit_decision ON audit_log(final_decision);
	`

	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) scanEntry(sc scanner) (*domain.AuditEntry, error) {
	e := &domain.AuditEntry{}
	var ts string
	err := sc.Scan(
		&e.ID, &e.EntryID, &ts, &e.PatientID, &e.TreatmentName, &e.ICD10Code,
		&e.ProviderNPI, &e.RuleStatus, &e.ProofStatus, &e.FinalDecision,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := time.ParseInLocation(TimestampLayout, ts, s.opts.location)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q on entry %d: %w", ts, e.ID, err)
	}
	e.Timestamp = parsed
	return e, nil
}

// Record appends an audit entry.
func (s *SQLiteStore) Record(ctx context.Context, entry *domain.AuditEntry) error {
	prepareEntry(entry, s.opts, uuid.NewString)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			entry_id, timestamp, patient_id, treatment_name, icd10_code,
			provider_npi, rule_status, proof_status, final_decision
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.EntryID,
		entry.Timestamp.Format(TimestampLayout),
		entry.PatientID,
		entry.TreatmentName,
		entry.ICD10Code,
		entry.ProviderNPI,
		entry.RuleStatus,
		entry.ProofStatus,
		entry.FinalDecision,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	entry.ID = id

	return nil
}

func sqlitePlaceholder(int) string { return "?" }

// List returns matching entries, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error) {
	where, args := whereClause(filter, sqlitePlaceholder)

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, timestamp, patient_id, treatment_name, icd10_code,
			provider_npi, rule_status, proof_status, final_decision
		FROM audit_log`+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*domain.AuditEntry{}
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// Count returns the number of matching entries.
func (s *SQLiteStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := whereClause(filter, sqlitePlaceholder)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&count)
	return count, err
}

// ExportCSV writes matching entries as CSV.
func (s *SQLiteStore) ExportCSV(ctx context.Context, filter Filter, w io.Writer) error {
	entries, err := s.List(ctx, exportFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	return writeCSV(entries, w, s.opts.location)
}

// ExportJSON writes matching entries as JSON.
func (s *SQLiteStore) ExportJSON(ctx context.Context, filter Filter, w io.Writer) error {
	entries, err := s.List(ctx, exportFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	return writeJSON(entries, w, s.opts.now())
}

// Location returns the zone timestamps are rendered in.
func (s *SQLiteStore) Location() *time.Location {
	return s.opts.location
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func exportFilter(f Filter) Filter {
	if f.Limit <= 0 || f.Limit > maxExportLimit {
		f.Limit = maxExportLimit
	}
	return f
}
