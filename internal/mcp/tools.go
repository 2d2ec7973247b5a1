package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/report"
	"github.com/prior-auth-mcp-server/internal/service"
)

const maxAuditResults = 200

// ProcessDocumentParams defines parameters for the process_document tool
type ProcessDocumentParams struct {
	Filename      string `json:"filename" jsonschema:"document file name, used to detect PDF or DOCX"`
	ContentBase64 string `json:"content_base64" jsonschema:"base64 encoded document bytes"`
	ContentType   string `json:"content_type,omitempty" jsonschema:"optional MIME type of the document"`
}

// EvaluateRulesParams defines parameters for the evaluate_rules tool
type EvaluateRulesParams struct {
	PatientID     string `json:"patient_id" jsonschema:"patient identifier"`
	TreatmentName string `json:"treatment_name,omitempty" jsonschema:"treatment name, empty when unknown"`
	ProviderNPI   string `json:"provider_npi" jsonschema:"10 digit provider NPI"`
}

// EvaluateRulesResult defines the result of the evaluate_rules tool
type EvaluateRulesResult struct {
	Decision domain.Decision      `json:"decision"`
	Failures []domain.RuleFailure `json:"failures"`
	Summary  string               `json:"summary"`
}

// ResolveTreatmentParams defines parameters for the resolve_treatment tool
type ResolveTreatmentParams struct {
	ICD10Codes []string `json:"icd10_codes" jsonschema:"ICD-10 codes in document order"`
}

// ResolveTreatmentResult defines the result of the resolve_treatment tool
type ResolveTreatmentResult struct {
	TreatmentName string `json:"treatment_name,omitempty"`
	Found         bool   `json:"found"`
}

// CorroborateFractureParams defines parameters for the corroborate_fracture tool
type CorroborateFractureParams struct {
	ClaimedCode string `json:"claimed_code" jsonschema:"claimed fracture ICD-10 code"`
	ImageBase64 string `json:"image_base64,omitempty" jsonschema:"base64 encoded X-ray image (JPEG, PNG, BMP, TIFF or WebP)"`
}

// SubmitProofParams defines parameters for the submit_proof tool
type SubmitProofParams struct {
	ProofPath   string `json:"proof_path" jsonschema:"lab_report or xray"`
	ClaimedCode string `json:"claimed_code,omitempty" jsonschema:"claimed ICD-10 code, required for xray"`
	FileBase64  string `json:"file_base64,omitempty" jsonschema:"base64 encoded lab report or X-ray image"`
}

// ProofResult defines the result of the corroborate_fracture and submit_proof tools.
// Only submit_proof records the outcome and sets ProofID.
type ProofResult struct {
	*domain.CorroborationResult
	ProofID string `json:"proof_id,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// FinalizeDecisionParams defines parameters for the finalize_decision tool
type FinalizeDecisionParams struct {
	PatientID     string `json:"patient_id" jsonschema:"patient identifier"`
	TreatmentName string `json:"treatment_name,omitempty" jsonschema:"resolved treatment name"`
	ProviderNPI   string `json:"provider_npi" jsonschema:"10 digit provider NPI"`
	ICD10Code     string `json:"icd10_code,omitempty" jsonschema:"claimed ICD-10 code recorded in the audit trail"`
	ProofID       string `json:"proof_id,omitempty" jsonschema:"proof_id returned by submit_proof; without it the proof is PENDING"`
	ReportFormat  string `json:"report_format,omitempty" jsonschema:"text (default) or pdf"`
}

// FinalizeDecisionResult defines the result of the finalize_decision tool
type FinalizeDecisionResult struct {
	*service.FinalizeResult
	ReportText   string `json:"report_text,omitempty"`
	ReportPath   string `json:"report_path,omitempty"`
	ReportBase64 string `json:"report_base64,omitempty"`
}

// QueryAuditParams defines parameters for the query_audit tool
type QueryAuditParams struct {
	PatientID     string `json:"patient_id,omitempty" jsonschema:"case-insensitive patient ID substring"`
	ProviderNPI   string `json:"provider_npi,omitempty" jsonschema:"provider NPI substring"`
	FinalDecision string `json:"final_decision,omitempty" jsonschema:"APPROVED or DENIED"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum entries to return, default 50"`
	Offset        int    `json:"offset,omitempty" jsonschema:"entries to skip"`
}

// QueryAuditResult defines the result of the query_audit tool
type QueryAuditResult struct {
	Entries []*domain.AuditEntry `json:"entries"`
	Total   int64                `json:"total"`
}

func (s *Server) handleProcessDocument(ctx context.Context, req *mcp.CallToolRequest, params ProcessDocumentParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "process_document").Info("Tool invoked")

	if params.ContentBase64 == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("content_base64 is required")), nil, nil
	}
	data, err := decodeBase64(params.ContentBase64)
	if err != nil {
		return s.createErrorResult("Invalid content_base64", err), nil, nil
	}

	result, err := s.service.ProcessDocument(ctx, params.Filename, params.ContentType, data)
	if err != nil {
		return s.createErrorResult("Document processing failed", err), nil, nil
	}

	text := fmt.Sprintf("Patient %s, provider NPI %s, treatment %s: %s (%s)",
		orUnknown(result.Identifiers.PatientID), orUnknown(result.Identifiers.ProviderNPI),
		orUnknown(result.TreatmentName), result.Verdict.Decision, result.Verdict.Summary())
	return textResult(text), result, nil
}

func (s *Server) handleEvaluateRules(ctx context.Context, req *mcp.CallToolRequest, params EvaluateRulesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "evaluate_rules").Info("Tool invoked")

	if strings.TrimSpace(params.PatientID) == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("patient_id is required")), nil, nil
	}

	verdict, err := s.service.EvaluateRules(ctx, params.PatientID, params.TreatmentName, params.ProviderNPI)
	if err != nil {
		return s.createErrorResult("Rule evaluation failed", err), nil, nil
	}

	result := EvaluateRulesResult{
		Decision: verdict.Decision,
		Failures: verdict.Failures,
		Summary:  verdict.Summary(),
	}
	return textResult(fmt.Sprintf("Rule status: %s. %s", result.Decision, result.Summary)), result, nil
}

func (s *Server) handleResolveTreatment(ctx context.Context, req *mcp.CallToolRequest, params ResolveTreatmentParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "resolve_treatment").Info("Tool invoked")

	name, found, err := s.service.ResolveTreatment(ctx, params.ICD10Codes)
	if err != nil {
		return s.createErrorResult("Treatment lookup failed", err), nil, nil
	}

	result := ResolveTreatmentResult{TreatmentName: name, Found: found}
	if !found {
		return textResult("No treatment found for the given codes"), result, nil
	}
	return textResult("Treatment: " + name), result, nil
}

func (s *Server) handleCorroborateFracture(ctx context.Context, req *mcp.CallToolRequest, params CorroborateFractureParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "corroborate_fracture").Info("Tool invoked")

	data, err := decodeBase64(params.ImageBase64)
	if err != nil {
		return s.createErrorResult("Invalid image_base64", err), nil, nil
	}

	result := newProofResult(s.service.CorroborateXray(ctx, params.ClaimedCode, data))
	return textResult(result.Message), result, nil
}

func (s *Server) handleSubmitProof(ctx context.Context, req *mcp.CallToolRequest, params SubmitProofParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithFields(logrus.Fields{
		"tool":       "submit_proof",
		"proof_path": params.ProofPath,
	}).Info("Tool invoked")

	data, err := decodeBase64(params.FileBase64)
	if err != nil {
		return s.createErrorResult("Invalid file_base64", err), nil, nil
	}

	path := domain.ProofPath(strings.ToLower(strings.TrimSpace(params.ProofPath)))
	submission, err := s.service.SubmitProof(ctx, path, params.ClaimedCode, data)
	if err != nil {
		return s.createErrorResult("Invalid proof submission", err), nil, nil
	}

	result := newProofResult(submission.Result)
	result.ProofID = submission.Proof.ID
	text := fmt.Sprintf("Proof status: %s. %s Proof ID: %s", submission.Proof.Status, result.Message, result.ProofID)
	return textResult(text), result, nil
}

func (s *Server) handleFinalizeDecision(ctx context.Context, req *mcp.CallToolRequest, params FinalizeDecisionParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "finalize_decision").Info("Tool invoked")

	if strings.TrimSpace(params.PatientID) == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("patient_id is required")), nil, nil
	}

	format := report.FormatText
	if params.ReportFormat != "" {
		f, err := report.ParseFormat(params.ReportFormat)
		if err != nil {
			return s.createErrorResult("Invalid report_format", err), nil, nil
		}
		format = f
	}

	fr, err := s.service.Finalize(ctx, service.FinalizeParams{
		PatientID:     params.PatientID,
		TreatmentName: params.TreatmentName,
		ProviderNPI:   params.ProviderNPI,
		ICD10Code:     params.ICD10Code,
		ProofID:       params.ProofID,
		ReportFormat:  format,
	})
	if err != nil {
		return s.createErrorResult("Finalization failed", err), nil, nil
	}

	result := FinalizeDecisionResult{FinalizeResult: fr}
	switch {
	case fr.Format == report.FormatText:
		result.ReportText = string(fr.Document)
	case s.reportDir != "":
		path, err := s.writeReport(fr)
		if err != nil {
			return s.createErrorResult("Failed to save report", err), nil, nil
		}
		result.ReportPath = path
	default:
		result.ReportBase64 = base64.StdEncoding.EncodeToString(fr.Document)
	}

	text := fmt.Sprintf("Final decision: %s (rules %s, proof %s). Audit entry %s.",
		fr.FinalDecision, fr.Verdict.Decision, fr.Report.ProofStatus, fr.Entry.EntryID)
	if result.ReportPath != "" {
		text += " Report saved to " + result.ReportPath
	}
	return textResult(text), result, nil
}

func (s *Server) handleQueryAudit(ctx context.Context, req *mcp.CallToolRequest, params QueryAuditParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "query_audit").Info("Tool invoked")

	filter := audit.Filter{
		PatientID:   strings.TrimSpace(params.PatientID),
		ProviderNPI: strings.TrimSpace(params.ProviderNPI),
		Limit:       params.Limit,
		Offset:      params.Offset,
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > maxAuditResults {
		filter.Limit = maxAuditResults
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if params.FinalDecision != "" {
		d, err := domain.ParseDecision(params.FinalDecision)
		if err != nil {
			return s.createErrorResult("Invalid final_decision", err), nil, nil
		}
		filter.FinalDecision = d.String()
	}

	entries, err := s.audit.List(ctx, filter)
	if err != nil {
		return s.createErrorResult("Audit query failed", err), nil, nil
	}
	total, err := s.audit.Count(ctx, filter)
	if err != nil {
		return s.createErrorResult("Audit query failed", err), nil, nil
	}

	result := QueryAuditResult{Entries: entries, Total: total}
	return textResult(fmt.Sprintf("Found %d audit entries (showing %d)", total, len(entries))), result, nil
}

func (s *Server) writeReport(fr *service.FinalizeResult) (string, error) {
	if err := os.MkdirAll(s.reportDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	name := fmt.Sprintf("prior_auth_%s_%s.%s", safeName(fr.Report.PatientID), fr.Entry.EntryID, fr.Format.Extension())
	path := filepath.Join(s.reportDir, name)
	if err := os.WriteFile(path, fr.Document, 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func newProofResult(cr *domain.CorroborationResult) ProofResult {
	result := ProofResult{CorroborationResult: cr, Message: cr.Message()}
	if cr.Err != nil {
		result.Error = cr.Err.Error()
	}
	return result
}

// decodeBase64 accepts standard or URL-safe encoding, with or without padding or a data URL prefix.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.TrimRight(s, "=")
	if data, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
