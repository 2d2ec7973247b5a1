package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prior-auth-mcp-server/internal/domain"
)

func sampleReport() *domain.DecisionReport {
	return &domain.DecisionReport{
		PatientID:     "P1",
		TreatmentName: "Angioplasty",
		ProviderNPI:   "1234567890",
		RuleStatus:    domain.APPROVED,
		ProofStatus:   domain.ProofPending,
		FinalDecision: domain.DENIED,
		Summary:       "All rules passed",
		GeneratedAt:   time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("TXT")
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)
	assert.Equal(t, "txt", f.Extension())

	_, err = ParseFormat("docx")
	assert.Error(t, err)
}

func TestLines(t *testing.T) {
	r := sampleReport()
	r.TreatmentName = ""

	lines := Lines(r)
	require.Len(t, lines, 7)
	assert.Equal(t, "Patient ID: P1", lines[0])
	assert.Equal(t, "Treatment: None", lines[1])
	assert.Equal(t, "Proof Status: PENDING", lines[4])
	assert.Equal(t, "Final Decision: DENIED", lines[5])
	assert.Equal(t, "Summary: All rules passed", lines[6])
}

func TestRenderText(t *testing.T) {
	data, err := RenderBytes(sampleReport(), FormatText)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "Provider NPI: 1234567890\n")
	assert.Contains(t, text, "Rule Status: APPROVED\n")
	assert.Contains(t, text, "Generated: 2025-03-01 09:00:00 UTC")
}

func TestRenderPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(sampleReport(), FormatPDF, &buf))

	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
	assert.Greater(t, buf.Len(), 500)
}

func TestRenderUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Render(sampleReport(), Format("html"), &buf))
}
