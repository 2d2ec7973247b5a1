package audit

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/prior-auth-mcp-server/internal/domain"
)

func TestWriteXLSX(t *testing.T) {
	entries := []*domain.AuditEntry{
		{
			ID:            3,
			EntryID:       "e-3",
			Timestamp:     time.Date(2025, 3, 1, 3, 30, 0, 0, time.UTC),
			PatientID:     "P1",
			TreatmentName: "Fracture",
			ICD10Code:     "S72.0",
			ProviderNPI:   "1234567890",
			RuleStatus:    "APPROVED",
			ProofStatus:   "PENDING",
			FinalDecision: "DENIED",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(entries, &buf, testIST))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 1)

	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "patient_id", sheet.Rows[0].Cells[3].String())
	assert.Equal(t, "2025-03-01 09:00:00", sheet.Rows[1].Cells[2].String())
	assert.Equal(t, "DENIED", sheet.Rows[1].Cells[9].String())
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(Filter{}, pgPlaceholder)
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = whereClause(Filter{PatientID: "50%", ProviderNPI: "123", FinalDecision: "APPROVED"}, pgPlaceholder)
	assert.Equal(t,
		` WHERE LOWER(patient_id) LIKE $1 ESCAPE '\' AND LOWER(provider_npi) LIKE $2 ESCAPE '\' AND final_decision = $3`,
		where)
	assert.Equal(t, []interface{}{`%50\%%`, "%123%", "APPROVED"}, args)
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+30*60, offset)

	_, err = LoadLocation("Nowhere/Special")
	assert.Error(t, err)
}

func TestExportXLSX(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, sampleEntry("P1", "1234567890", "APPROVED")))
	require.NoError(t, store.Record(ctx, sampleEntry("P2", "1234567890", "DENIED")))

	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(ctx, store, Filter{FinalDecision: "DENIED"}, &buf))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet := f.Sheets[0]
	require.Len(t, sheet.Rows, 2)
	assert.Equal(t, "P2", sheet.Rows[1].Cells[3].String())
}
