package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	patientIDPattern  = regexp.MustCompile(`(?i)Patient\s*ID[:\s\-]*([A-Za-z0-9\-_]+)`)
	npiPattern        = regexp.MustCompile(`(?i)NPI\s*(?:#|number)?\s*[:\s]*([0-9]{10})`)
	icd10Pattern      = regexp.MustCompile(`\b([A-Z][0-9][0-9A-Z](?:\.[0-9A-Z]{1,4})?)\b`)
)

// TextSource turns an uploaded document into plain text.
type TextSource interface {
	Text(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// IdentifierExtractor finds the patient id, provider NPI and diagnosis codes in a document.
type IdentifierExtractor struct {
	source TextSource
	logger *logrus.Logger
}

// NewIdentifierExtractor creates an extractor reading text from source.
func NewIdentifierExtractor(source TextSource, logger *logrus.Logger) *IdentifierExtractor {
	return &IdentifierExtractor{source: source, logger: logger}
}

// ExtractIdentifiers reads the document and parses identifiers from its text.
func (x *IdentifierExtractor) ExtractIdentifiers(ctx context.Context, filename, contentType string, data []byte) (*domain.ExtractedIdentifiers, error) {
	text, err := x.source.Text(ctx, filename, contentType, data)
	if err != nil {
		return nil, &domain.ExtractionError{Document: filename, Err: err}
	}

	ids := ParseIdentifiers(text)
	x.logger.WithFields(logrus.Fields{
		"document":     filename,
		"patient_id":   ids.PatientID,
		"provider_npi": ids.ProviderNPI,
		"icd10_codes":  len(ids.ICD10Codes),
	}).Info("Extracted identifiers")

	return ids, nil
}

// ParseIdentifiers applies the identifier patterns to text after collapsing whitespace.
// The first patient id and NPI win. Diagnosis codes are deduplicated in order of first
// appearance, so the first code in the document is the claimed one.
func ParseIdentifiers(text string) *domain.ExtractedIdentifiers {
	text = whitespacePattern.ReplaceAllString(text, " ")

	ids := &domain.ExtractedIdentifiers{ICD10Codes: []string{}}
	if m := patientIDPattern.FindStringSubmatch(text); m != nil {
		ids.PatientID = strings.TrimSpace(m[1])
	}
	if m := npiPattern.FindStringSubmatch(text); m != nil {
		ids.ProviderNPI = strings.TrimSpace(m[1])
	}

	seen := make(map[string]struct{})
	for _, m := range icd10Pattern.FindAllStringSubmatch(text, -1) {
		code := m[1]
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		ids.ICD10Codes = append(ids.ICD10Codes, code)
	}

	return ids
}
