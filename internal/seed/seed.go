// Package seed loads the lookup tables from CSV or XLSX exports.
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tealeg/xlsx/v2"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Loader bulk-inserts lookup rows. Both record repositories implement it.
type Loader interface {
	LoadPatients(ctx context.Context, rows []domain.PatientRecord) (int, error)
	LoadInsurance(ctx context.Context, rows []domain.InsuranceRecord) (int, error)
	LoadProviders(ctx context.Context, rows []domain.ProviderRecord) (int, error)
	LoadTreatments(ctx context.Context, rows []domain.TreatmentRecord) (int, error)
}

// Table names a lookup table.
type Table string

const (
	TablePatients   Table = "patients"
	TableInsurance  Table = "insurance"
	TableProviders  Table = "providers"
	TableTreatments Table = "treatments"
)

// Tables lists the lookup tables in load order.
var Tables = []Table{TablePatients, TableInsurance, TableProviders, TableTreatments}

// ParseTable accepts a table name with or without the "_table" suffix.
func ParseTable(s string) (Table, error) {
	s = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "_table")
	switch s {
	case "patient", "patients":
		return TablePatients, nil
	case "insurance":
		return TableInsurance, nil
	case "provider", "providers":
		return TableProviders, nil
	case "treatment", "treatments":
		return TableTreatments, nil
	default:
		return "", fmt.Errorf("unknown table %q", s)
	}
}

// Sheet is a header row plus data rows.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// column returns the index of the first header matching any name, case-insensitively.
func (s *Sheet) column(names ...string) int {
	for i, h := range s.Header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func (s *Sheet) require(names ...string) (int, error) {
	i := s.column(names...)
	if i < 0 {
		return -1, fmt.Errorf("missing column %q", names[0])
	}
	return i, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadFile reads a .csv or .xlsx file. XLSX files use their first sheet.
func ReadFile(ctx context.Context, path string) (*Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("xlsx: open file: %w", err)
		}
		return readXLSX(f)
	case ".csv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("csv: open file: %w", err)
		}
		defer f.Close()
		return ReadCSV(ctx, f)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV reads a CSV document whose first row is the header.
func ReadCSV(ctx context.Context, r io.Reader) (*Sheet, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	sheet := &Sheet{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv: read row: %w", err)
		}
		if sheet.Header == nil {
			sheet.Header = record
			continue
		}
		sheet.Rows = append(sheet.Rows, record)
	}
	if sheet.Header == nil {
		return nil, fmt.Errorf("csv: empty file")
	}
	return sheet, nil
}

func readXLSX(f *xlsx.File) (*Sheet, error) {
	if len(f.Sheets) == 0 {
		return nil, fmt.Errorf("xlsx: no sheets")
	}

	sheet := &Sheet{}
	for i, row := range f.Sheets[0].Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, c := range row.Cells {
			cells[j] = c.String()
		}
		if i == 0 {
			sheet.Header = cells
			continue
		}
		sheet.Rows = append(sheet.Rows, cells)
	}
	if sheet.Header == nil {
		return nil, fmt.Errorf("xlsx: empty sheet")
	}
	return sheet, nil
}

// Load converts the sheet into records of table and loads them. Rows without the table's key
// are skipped.
func Load(ctx context.Context, loader Loader, table Table, sheet *Sheet, logger *logrus.Logger) (int, error) {
	var (
		n       int
		skipped int
		err     error
	)
	switch table {
	case TablePatients:
		var rows []domain.PatientRecord
		rows, skipped, err = Patients(sheet)
		if err == nil {
			n, err = loader.LoadPatients(ctx, rows)
		}
	case TableInsurance:
		var rows []domain.InsuranceRecord
		rows, skipped, err = Insurance(sheet)
		if err == nil {
			n, err = loader.LoadInsurance(ctx, rows)
		}
	case TableProviders:
		var rows []domain.ProviderRecord
		rows, skipped, err = Providers(sheet)
		if err == nil {
			n, err = loader.LoadProviders(ctx, rows)
		}
	case TableTreatments:
		var rows []domain.TreatmentRecord
		rows, skipped, err = Treatments(sheet)
		if err == nil {
			n, err = loader.LoadTreatments(ctx, rows)
		}
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", table, err)
	}

	logger.WithFields(logrus.Fields{
		"table":   table,
		"loaded":  n,
		"skipped": skipped,
	}).Info("Loaded lookup rows")
	return n, nil
}

// Patients maps a patient_table export.
func Patients(s *Sheet) ([]domain.PatientRecord, int, error) {
	id, err := s.require("patient_id")
	if err != nil {
		return nil, 0, err
	}
	age := s.column("age")
	ins := s.column("insurance_id")

	var out []domain.PatientRecord
	skipped := 0
	for _, row := range s.Rows {
		rec := domain.PatientRecord{ID: cell(row, id), Age: cell(row, age), InsuranceID: cell(row, ins)}
		if rec.ID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}

// Insurance maps an insurance_table export.
func Insurance(s *Sheet) ([]domain.InsuranceRecord, int, error) {
	id, err := s.require("insurance_id")
	if err != nil {
		return nil, 0, err
	}
	claim := s.column("claim_date")

	var out []domain.InsuranceRecord
	skipped := 0
	for _, row := range s.Rows {
		rec := domain.InsuranceRecord{InsuranceID: cell(row, id), ClaimDate: cell(row, claim)}
		if rec.InsuranceID == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}

// Providers maps a provider_table export. Column names follow the CMS provider utilization
// files (Rndrng_NPI, Rndrng_Prvdr_Type, Tot_Srvcs, Tot_Benes) with plain aliases accepted.
func Providers(s *Sheet) ([]domain.ProviderRecord, int, error) {
	npi, err := s.require("rndrng_npi", "npi", "provider_npi")
	if err != nil {
		return nil, 0, err
	}
	start := s.column("start_date")
	end := s.column("end_date")
	typ := s.column("rndrng_prvdr_type", "provider_type")
	srvcs := s.column("tot_srvcs", "total_services")
	benes := s.column("tot_benes", "total_beneficiaries")

	var out []domain.ProviderRecord
	skipped := 0
	for i, row := range s.Rows {
		raw := cell(row, npi)
		if raw == "" {
			skipped++
			continue
		}
		value, err := strconv.ParseInt(strings.TrimSuffix(raw, ".0"), 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("row %d: invalid NPI %q", i+2, raw)
		}
		out = append(out, domain.ProviderRecord{
			NPI:                value,
			StartDate:          cell(row, start),
			EndDate:            cell(row, end),
			ProviderType:       cell(row, typ),
			TotalServices:      cell(row, srvcs),
			TotalBeneficiaries: cell(row, benes),
		})
	}
	return out, skipped, nil
}

// Treatments maps a treatment_table export.
func Treatments(s *Sheet) ([]domain.TreatmentRecord, int, error) {
	code, err := s.require("icd10_code", "icd10", "icd_10_code")
	if err != nil {
		return nil, 0, err
	}
	name, err := s.require("treatment_name", "treatment")
	if err != nil {
		return nil, 0, err
	}

	var out []domain.TreatmentRecord
	skipped := 0
	for _, row := range s.Rows {
		rec := domain.TreatmentRecord{TreatmentName: cell(row, name), ICD10Code: cell(row, code)}
		if rec.ICD10Code == "" {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}
