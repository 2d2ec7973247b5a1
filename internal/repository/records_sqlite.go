package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// SQLiteRecordRepository reads the lookup tables from a SQLite database.
// Columns are read as text so files written by other tools load regardless of column affinity.
type SQLiteRecordRepository struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteRecordRepository creates a lookup repository over an open SQLite handle.
func NewSQLiteRecordRepository(db *sql.DB, logger *logrus.Logger) *SQLiteRecordRepository {
	return &SQLiteRecordRepository{
		db:  db,
		log: logger,
	}
}

// GetPatient retrieves a patient by id
func (r *SQLiteRecordRepository) GetPatient(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	query := `
		SELECT COALESCE(CAST(age AS TEXT), ''), COALESCE(CAST(insurance_id AS TEXT), '')
		FROM patient_table
		WHERE patient_id = ?
		LIMIT 1`

	patient := domain.PatientRecord{ID: patientID}
	err := r.db.QueryRowContext(ctx, query, patientID).Scan(&patient.Age, &patient.InsuranceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": patientID,
			"error":      err,
		}).Error("Failed to get patient")
		return nil, fmt.Errorf("getting patient: %w", err)
	}

	return &patient, nil
}

// GetInsurance retrieves an insurance record by id
func (r *SQLiteRecordRepository) GetInsurance(ctx context.Context, insuranceID string) (*domain.InsuranceRecord, error) {
	query := `
		SELECT COALESCE(CAST(claim_date AS TEXT), '')
		FROM insurance_table
		WHERE insurance_id = ?
		LIMIT 1`

	ins := domain.InsuranceRecord{InsuranceID: insuranceID}
	err := r.db.QueryRowContext(ctx, query, insuranceID).Scan(&ins.ClaimDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"insurance_id": insuranceID,
			"error":        err,
		}).Error("Failed to get insurance")
		return nil, fmt.Errorf("getting insurance: %w", err)
	}

	return &ins, nil
}

// GetProvider retrieves a provider by NPI
func (r *SQLiteRecordRepository) GetProvider(ctx context.Context, npi int64) (*domain.ProviderRecord, error) {
	query := `
		SELECT COALESCE(CAST(start_date AS TEXT), ''), COALESCE(CAST(end_date AS TEXT), ''),
			   COALESCE(CAST(rndrng_prvdr_type AS TEXT), ''),
			   COALESCE(CAST(tot_srvcs AS TEXT), ''), COALESCE(CAST(tot_benes AS TEXT), '')
		FROM provider_table
		WHERE rndrng_npi = ?
		LIMIT 1`

	p := domain.ProviderRecord{NPI: npi}
	err := r.db.QueryRowContext(ctx, query, npi).Scan(
		&p.StartDate, &p.EndDate, &p.ProviderType, &p.TotalServices, &p.TotalBeneficiaries,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"npi":   npi,
			"error": err,
		}).Error("Failed to get provider")
		return nil, fmt.Errorf("getting provider: %w", err)
	}

	return &p, nil
}

// GetTreatmentByCode retrieves the first treatment mapped to an ICD-10 code
func (r *SQLiteRecordRepository) GetTreatmentByCode(ctx context.Context, icd10Code string) (*domain.TreatmentRecord, error) {
	query := `
		SELECT COALESCE(CAST(treatment_name AS TEXT), '')
		FROM treatment_table
		WHERE icd10_code = ?
		LIMIT 1`

	t := domain.TreatmentRecord{ICD10Code: icd10Code}
	err := r.db.QueryRowContext(ctx, query, icd10Code).Scan(&t.TreatmentName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"icd10_code": icd10Code,
			"error":      err,
		}).Error("Failed to get treatment")
		return nil, fmt.Errorf("getting treatment: %w", err)
	}

	return &t, nil
}

// CountTreatmentsByName counts the treatment rows carrying an exact name
func (r *SQLiteRecordRepository) CountTreatmentsByName(ctx context.Context, treatmentName string) (int, error) {
	query := `SELECT COUNT(*) FROM treatment_table WHERE treatment_name = ?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, treatmentName).Scan(&count); err != nil {
		r.log.WithFields(logrus.Fields{
			"treatment": treatmentName,
			"error":     err,
		}).Error("Failed to count treatments")
		return 0, fmt.Errorf("counting treatments: %w", err)
	}
	return count, nil
}

// LoadPatients replaces patient rows in one transaction
func (r *SQLiteRecordRepository) LoadPatients(ctx context.Context, rows []domain.PatientRecord) (int, error) {
	return r.load(ctx, "patients",
		`INSERT OR REPLACE INTO patient_table (patient_id, age, insurance_id) VALUES (?, ?, ?)`,
		len(rows), func(i int) []any {
			return []any{rows[i].ID, rows[i].Age, rows[i].InsuranceID}
		})
}

// LoadInsurance replaces insurance rows in one transaction
func (r *SQLiteRecordRepository) LoadInsurance(ctx context.Context, rows []domain.InsuranceRecord) (int, error) {
	return r.load(ctx, "insurance",
		`INSERT OR REPLACE INTO insurance_table (insurance_id, claim_date) VALUES (?, ?)`,
		len(rows), func(i int) []any {
			return []any{rows[i].InsuranceID, rows[i].ClaimDate}
		})
}

// LoadProviders replaces provider rows in one transaction
func (r *SQLiteRecordRepository) LoadProviders(ctx context.Context, rows []domain.ProviderRecord) (int, error) {
	return r.load(ctx, "providers",
		`INSERT OR REPLACE INTO provider_table
			(rndrng_npi, start_date, end_date, rndrng_prvdr_type, tot_srvcs, tot_benes)
			VALUES (?, ?, ?, ?, ?, ?)`,
		len(rows), func(i int) []any {
			p := rows[i]
			return []any{p.NPI, p.StartDate, p.EndDate, p.ProviderType, p.TotalServices, p.TotalBeneficiaries}
		})
}

// LoadTreatments appends treatment rows in one transaction
func (r *SQLiteRecordRepository) LoadTreatments(ctx context.Context, rows []domain.TreatmentRecord) (int, error) {
	return r.load(ctx, "treatments",
		`INSERT INTO treatment_table (treatment_name, icd10_code) VALUES (?, ?)`,
		len(rows), func(i int) []any {
			return []any{rows[i].TreatmentName, rows[i].ICD10Code}
		})
}

func (r *SQLiteRecordRepository) load(ctx context.Context, table, query string, n int, args func(int) []any) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning %s load: %w", table, err)
	}
	defer tx.Rollback()

	for i := 0; i < n; i++ {
		if _, err := tx.ExecContext(ctx, query, args(i)...); err != nil {
			r.log.WithFields(logrus.Fields{
				"table": table,
				"row":   i,
				"error": err,
			}).Error("Failed to load row")
			return 0, fmt.Errorf("loading %s row %d: %w", table, i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing %s load: %w", table, err)
	}

	r.log.WithFields(logrus.Fields{
		"table": table,
		"rows":  n,
	}).Info("Lookup rows loaded")
	return n, nil
}
