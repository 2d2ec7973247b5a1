// Package report renders finalized decisions into downloadable documents.
package report

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Format selects the output document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatText Format = "text"
)

// ParseFormat accepts "pdf", "text" or "txt"; empty means PDF.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pdf":
		return FormatPDF, nil
	case "text", "txt":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatText {
		return "text/plain; charset=utf-8"
	}
	return "application/pdf"
}

// Extension returns the file extension of the format, without the dot.
func (f Format) Extension() string {
	if f == FormatText {
		return "txt"
	}
	return "pdf"
}

// Lines returns the report body, one field per line.
func Lines(r *domain.DecisionReport) []string {
	return []string{
		"Patient ID: " + orNone(r.PatientID),
		"Treatment: " + orNone(r.TreatmentName),
		"Provider NPI: " + orNone(r.ProviderNPI),
		"Rule Status: " + string(r.RuleStatus),
		"Proof Status: " + string(r.ProofStatus),
		"Final Decision: " + string(r.FinalDecision),
		"Summary: " + r.Summary,
	}
}

// Render writes the report in the requested format.
func Render(r *domain.DecisionReport, format Format, w io.Writer) error {
	switch format {
	case FormatText:
		return renderText(r, w)
	case FormatPDF:
		return renderPDF(r, w)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// RenderBytes renders the report into memory.
func RenderBytes(r *domain.DecisionReport, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(r, format, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderText(r *domain.DecisionReport, w io.Writer) error {
	body := strings.Join(Lines(r), "\n") + "\n"
	if !r.GeneratedAt.IsZero() {
		body += "Generated: " + r.GeneratedAt.Format("2006-01-02 15:04:05 MST") + "\n"
	}
	_, err := io.WriteString(w, body)
	return err
}

func renderPDF(r *domain.DecisionReport, w io.Writer) error {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetTitle("Prior Authorization Decision", true)
	pdf.SetMargins(50, 40, 50)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 12)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	width, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()

	for _, line := range Lines(r) {
		pdf.MultiCell(width-left-right, 20, tr(line), "", "L", false)
	}
	if !r.GeneratedAt.IsZero() {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(width-left-right, 20, tr("Generated: "+r.GeneratedAt.Format("2006-01-02 15:04:05 MST")), "", "L", false)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF report: %w", err)
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
