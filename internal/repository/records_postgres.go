package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Querier is the subset of *pgxpool.Pool the postgres repository needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresRecordRepository reads the lookup tables through pgx.
type PostgresRecordRepository struct {
	db  Querier
	log *logrus.Logger
}

// NewPostgresRecordRepository creates a new lookup repository
func NewPostgresRecordRepository(db Querier, logger *logrus.Logger) *PostgresRecordRepository {
	return &PostgresRecordRepository{
		db:  db,
		log: logger,
	}
}

// GetPatient retrieves a patient by id
func (r *PostgresRecordRepository) GetPatient(ctx context.Context, patientID string) (*domain.PatientRecord, error) {
	query := `
		SELECT COALESCE(age, ''), COALESCE(insurance_id, '')
		FROM patient_table
		WHERE patient_id = $1
		LIMIT 1`

	patient := domain.PatientRecord{ID: patientID}
	err := r.db.QueryRow(ctx, query, patientID).Scan(&patient.Age, &patient.InsuranceID)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresRecordRepository) GetInsurance(ctx context.Context, insuranceID string) (*domain.InsuranceRecord, error) {
	query := `
		SELECT COALESCE(claim_date, '')
		FROM insurance_table
		WHERE insurance_id = $1
		LIMIT 1`

	ins := domain.InsuranceRecord{InsuranceID: insuranceID}
	err := r.db.QueryRow(ctx, query, insuranceID).Scan(&ins.ClaimDate)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresRecordRepository) GetProvider(ctx context.Context, npi int64) (*domain.ProviderRecord, error) {
	query := `
		SELECT COALESCE(start_date, ''), COALESCE(end_date, ''), COALESCE(rndrng_prvdr_type, ''),
			   COALESCE(tot_srvcs, ''), COALESCE(tot_benes, '')
		FROM provider_table
		WHERE rndrng_npi = $1
		LIMIT 1`

	p := domain.ProviderRecord{NPI: npi}
	err := r.db.QueryRow(ctx, query, npi).Scan(
		&p.StartDate, &p.EndDate, &p.ProviderType, &p.TotalServices, &p.TotalBeneficiaries,
	)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresRecordRepository) GetTreatmentByCode(ctx context.Context, icd10Code string) (*domain.TreatmentRecord, error) {
	query := `
		SELECT treatment_name
		FROM treatment_table
		WHERE icd10_code = $1
		ORDER BY id
		LIMIT 1`

	t := domain.TreatmentRecord{ICD10Code: icd10Code}
	err := r.db.QueryRow(ctx, query, icd10Code).Scan(&t.TreatmentName)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (r *PostgresRecordRepository) CountTreatmentsByName(ctx context.Context, treatmentName string) (int, error) {
	query := `SELECT COUNT(*) FROM treatment_table WHERE treatment_name = $1`

	var count int
	if err := r.db.QueryRow(ctx, query, treatmentName).Scan(&count); err != nil {
		r.log.WithFields(logrus.Fields{
			"treatment": treatmentName,
			"error":     err,
		}).Error("Failed to count treatments")
		return 0, fmt.Errorf("counting treatments: %w", err)
	}
	return count, nil
}

// LoadPatients upserts patient rows in one transaction
func (r *PostgresRecordRepository) LoadPatients(ctx context.Context, rows []domain.PatientRecord) (int, error) {
	return r.upsert(ctx, "patients", `
		INSERT INTO patient_table (patient_id, age, insurance_id) VALUES ($1, $2, $3)
		ON CONFLICT (patient_id) DO UPDATE SET age = EXCLUDED.age, insurance_id = EXCLUDED.insurance_id`,
		len(rows), func(i int) []any {
			return []any{rows[i].ID, rows[i].Age, rows[i].InsuranceID}
		})
}

// LoadInsurance upserts insurance rows in one transaction
func (r *PostgresRecordRepository) LoadInsurance(ctx context.Context, rows []domain.InsuranceRecord) (int, error) {
	return r.upsert(ctx, "insurance", `
		INSERT INTO insurance_table (insurance_id, claim_date) VALUES ($1, $2)
		ON CONFLICT (insurance_id) DO UPDATE SET claim_date = EXCLUDED.claim_date`,
		len(rows), func(i int) []any {
			return []any{rows[i].InsuranceID, rows[i].ClaimDate}
		})
}

// LoadProviders upserts provider rows in one transaction
func (r *PostgresRecordRepository) LoadProviders(ctx context.Context, rows []domain.ProviderRecord) (int, error) {
	return r.upsert(ctx, "providers", `
		INSERT INTO provider_table (rndrng_npi, start_date, end_date, rndrng_prvdr_type, tot_srvcs, tot_benes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rndrng_npi) DO UPDATE SET
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date,
			rndrng_prvdr_type = EXCLUDED.rndrng_prvdr_type,
			tot_srvcs = EXCLUDED.tot_srvcs, tot_benes = EXCLUDED.tot_benes`,
		len(rows), func(i int) []any {
			p := rows[i]
			return []any{p.NPI, p.StartDate, p.EndDate, p.ProviderType, p.TotalServices, p.TotalBeneficiaries}
		})
}

// LoadTreatments bulk-copies treatment rows
func (r *PostgresRecordRepository) LoadTreatments(ctx context.Context, rows []domain.TreatmentRecord) (int, error) {
	n, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"treatment_table"},
		[]string{"treatment_name", "icd10_code"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{rows[i].TreatmentName, rows[i].ICD10Code}, nil
		}),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"table": "treatments",
			"error": err,
		}).Error("Failed to copy rows")
		return 0, fmt.Errorf("copying treatments: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"table": "treatments",
		"rows":  n,
	}).Info("Lookup rows loaded")
	return int(n), nil
}

func (r *PostgresRecordRepository) upsert(ctx context.Context, table, query string, n int, args func(int) []any) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning %s load: %w", table, err)
	}

	for i := 0; i < n; i++ {
		if _, err := tx.Exec(ctx, query, args(i)...); err != nil {
			_ = tx.Rollback(ctx)
			r.log.WithFields(logrus.Fields{
				"table": table,
				"row":   i,
				"error": err,
			}).Error("Failed to load row")
			return 0, fmt.Errorf("loading %s row %d: %w", table, i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing %s load: %w", table, err)
	}

	r.log.WithFields(logrus.Fields{
		"table": table,
		"rows":  n,
	}).Info("Lookup rows loaded")
	return n, nil
}
