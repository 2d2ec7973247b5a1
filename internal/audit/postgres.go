package audit

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db   *sql.DB
	opts options
}

// NewPostgresStore creates a new PostgreSQL audit store.
// It expects the audit_log table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB, opts ...Option) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db, opts: buildOptions(opts)}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL audit store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func pgPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func (s *PostgresStore) scanEntry(sc scanner) (*domain.AuditEntry, error) {
	e := &domain.AuditEntry{}
	err := sc.Scan(
		&e.ID, &e.EntryID, &e.Timestamp, &e.PatientID, &e.TreatmentName, &e.ICD10Code,
		&e.ProviderNPI, &e.RuleStatus, &e.ProofStatus, &e.FinalDecision,
	)
	if err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.In(s.opts.location)
	return e, nil
}

// Record appends an audit entry.
func (s *PostgresStore) Record(ctx context.Context, entry *domain.AuditEntry) error {
	prepareEntry(entry, s.opts, uuid.NewString)

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (
			entry_id, recorded_at, patient_id, treatment_name, icd10_code,
			provider_npi, rule_status, proof_status, final_decision
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		entry.EntryID,
		entry.Timestamp,
		entry.PatientID,
		entry.TreatmentName,
		entry.ICD10Code,
		entry.ProviderNPI,
		entry.RuleStatus,
		entry.ProofStatus,
		entry.FinalDecision,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// List returns matching entries, newest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*domain.AuditEntry, error) {
	where, args := whereClause(filter, pgPlaceholder)

	query := `
		SELECT id, entry_id, recorded_at, patient_id, treatment_name, icd10_code,
			provider_npi, rule_status, proof_status, final_decision
		FROM audit_log` + where + `
		ORDER BY recorded_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT " + pgPlaceholder(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET " + pgPlaceholder(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *PostgresStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := whereClause(filter, pgPlaceholder)

	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log"+where, args...).Scan(&count)
	return count, err
}

// ExportCSV writes matching entries as CSV.
func (s *PostgresStore) ExportCSV(ctx context.Context, filter Filter, w io.Writer) error {
	entries, err := s.List(ctx, exportFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	return writeCSV(entries, w, s.opts.location)
}

// ExportJSON writes matching entries as JSON.
func (s *PostgresStore) ExportJSON(ctx context.Context, filter Filter, w io.Writer) error {
	entries, err := s.List(ctx, exportFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	return writeJSON(entries, w, s.opts.now())
}

// Location returns the zone timestamps are rendered in.
func (s *PostgresStore) Location() *time.Location {
	return s.opts.location
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
