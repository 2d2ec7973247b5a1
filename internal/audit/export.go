package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/tealeg/xlsx/v2"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// exportColumns is the column order of tabular exports.
var exportColumns = []string{
	"id", "entry_id", "timestamp", "patient_id", "treatment_name", "icd10_code",
	"provider_npi", "rule_status", "proof_status", "final_decision",
}

func entryRow(e *domain.AuditEntry, loc *time.Location) []string {
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.EntryID,
		e.Timestamp.In(loc).Format(TimestampLayout),
		e.PatientID,
		e.TreatmentName,
		e.ICD10Code,
		e.ProviderNPI,
		e.RuleStatus,
		e.ProofStatus,
		e.FinalDecision,
	}
}

func writeCSV(entries []*domain.AuditEntry, w io.Writer, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, e := range entries {
		if err := cw.Write(entryRow(e, loc)); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", e.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(entries []*domain.AuditEntry, w io.Writer, now time.Time) error {
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}
	export := &Export{
		Version:    "1.0",
		ExportedAt: now,
		Count:      len(entries),
		Entries:    entries,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// WriteXLSX writes entries as a single-sheet spreadsheet for reviewers who work in Excel.
func WriteXLSX(entries []*domain.AuditEntry, w io.Writer, loc *time.Location) error {
	if loc == nil {
		loc = defaultLocation()
	}
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("audit_log")
	if err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	addRow(sheet, exportColumns)
	for _, e := range entries {
		addRow(sheet, entryRow(e, loc))
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

// ExportXLSX writes the entries matching filter from any store as a spreadsheet.
func ExportXLSX(ctx context.Context, store Store, filter Filter, w io.Writer) error {
	entries, err := store.List(ctx, exportFilter(filter))
	if err != nil {
		return fmt.Errorf("failed to list audit entries: %w", err)
	}
	return WriteXLSX(entries, w, store.Location())
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
