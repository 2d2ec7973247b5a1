package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/report"
)

// AuditRecorder appends finalized decisions to the audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, entry *domain.AuditEntry) error
}

// PriorAuthService runs the prior-authorization workflow: document intake, rule evaluation,
// proof corroboration and finalization.
type PriorAuthService struct {
	extractor    *IdentifierExtractor
	resolver     *TreatmentResolver
	engine       *RuleEngine
	corroborator *Corroborator
	audit        AuditRecorder
	proofs       *ProofLedger
	logger       *logrus.Logger
}

// ServiceOption configures a PriorAuthService.
type ServiceOption func(*PriorAuthService)

// WithProofLedger replaces the default proof ledger.
func WithProofLedger(ledger *ProofLedger) ServiceOption {
	return func(s *PriorAuthService) {
		s.proofs = ledger
	}
}

// NewPriorAuthService creates a new workflow service
func NewPriorAuthService(
	extractor *IdentifierExtractor,
	resolver *TreatmentResolver,
	engine *RuleEngine,
	corroborator *Corroborator,
	audit AuditRecorder,
	logger *logrus.Logger,
	opts ...ServiceOption,
) *PriorAuthService {
	s := &PriorAuthService{
		extractor:    extractor,
		resolver:     resolver,
		engine:       engine,
		corroborator: corroborator,
		audit:        audit,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.proofs == nil {
		s.proofs = NewProofLedger(domain.ProofConfig{})
	}
	return s
}

// DocumentResult is what a submitted request document yields.
type DocumentResult struct {
	Identifiers    *domain.ExtractedIdentifiers `json:"identifiers"`
	TreatmentName  string                       `json:"treatment_name"`
	TreatmentFound bool                         `json:"treatment_found"`
	Verdict        *domain.RuleVerdict          `json:"verdict"`
}

// FinalizeParams identifies the request being finalized. Rules are re-evaluated from the
// identifiers and the proof status comes from the record SubmitProof returned; without a
// ProofID the proof is PENDING.
type FinalizeParams struct {
	PatientID     string
	TreatmentName string
	ProviderNPI   string
	ICD10Code     string
	ProofID       string
	ReportFormat  report.Format
}

// ProofSubmission is a recorded proof outcome and the corroboration detail behind it.
type ProofSubmission struct {
	Proof  domain.ProofRecord
	Result *domain.CorroborationResult
}

// FinalizeResult carries the recorded audit entry and the rendered report.
type FinalizeResult struct {
	FinalDecision domain.Decision        `json:"final_decision"`
	ProofID       string                 `json:"proof_id,omitempty"`
	Verdict       *domain.RuleVerdict    `json:"verdict"`
	Entry         *domain.AuditEntry     `json:"audit_entry"`
	Report        *domain.DecisionReport `json:"report"`
	Document      []byte                 `json:"-"`
	Format        report.Format          `json:"format"`
}

// ProcessDocument extracts identifiers from a request document, resolves the treatment from
// its diagnosis codes and evaluates the rules.
func (s *PriorAuthService) ProcessDocument(ctx context.Context, filename, contentType string, data []byte) (*DocumentResult, error) {
	ids, err := s.extractor.ExtractIdentifiers(ctx, filename, contentType, data)
	if err != nil {
		return nil, err
	}

	treatment, found, err := s.resolver.ResolveTreatment(ctx, ids.ICD10Codes)
	if err != nil {
		return nil, err
	}

	verdict, err := s.EvaluateRules(ctx, ids.PatientID, treatment, ids.ProviderNPI)
	if err != nil {
		return nil, err
	}

	return &DocumentResult{
		Identifiers:    ids,
		TreatmentName:  treatment,
		TreatmentFound: found,
		Verdict:        verdict,
	}, nil
}

// ResolveTreatment maps diagnosis codes to a treatment name.
func (s *PriorAuthService) ResolveTreatment(ctx context.Context, codes []string) (string, bool, error) {
	return s.resolver.ResolveTreatment(ctx, codes)
}

// EvaluateRules runs the rule engine. An unusable NPI is reported through the verdict; only
// store failures are returned as errors.
func (s *PriorAuthService) EvaluateRules(ctx context.Context, patientID, treatmentName, providerNPI string) (*domain.RuleVerdict, error) {
	verdict, err := s.engine.Evaluate(ctx, patientID, treatmentName, providerNPI)
	var pe *domain.ParseError
	if errors.As(err, &pe) && verdict != nil {
		return verdict, nil
	}
	if err != nil {
		return nil, fmt.Errorf("evaluating rules: %w", err)
	}
	return verdict, nil
}

// CorroborateXray decodes an X-ray image and corroborates the claimed code against it.
// Empty image data leaves the proof PENDING; undecodable data is DENIED with Err set.
func (s *PriorAuthService) CorroborateXray(ctx context.Context, claimedCode string, imageData []byte) *domain.CorroborationResult {
	claimedCode = strings.TrimSpace(claimedCode)
	if len(imageData) == 0 {
		return s.corroborator.Corroborate(ctx, claimedCode, nil)
	}

	img, format, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		s.logger.WithError(err).Warn("Rejected undecodable X-ray image")
		return &domain.CorroborationResult{
			Status:        domain.ProofDenied,
			ClaimedCode:   claimedCode,
			DetectedBones: []string{},
			DetectedCodes: []string{},
			Err:           fmt.Errorf("decoding image: %w", err),
		}
	}

	s.logger.WithFields(logrus.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("Decoded X-ray image")

	return s.corroborator.Corroborate(ctx, claimedCode, img)
}

// SubmitProof resolves the proof status for the chosen path and records it in the proof
// ledger. Any uploaded lab report is accepted as proof; an X-ray is corroborated against the
// claimed code. No upload stays PENDING. The returned proof ID is what Finalize accepts.
func (s *PriorAuthService) SubmitProof(ctx context.Context, path domain.ProofPath, claimedCode string, data []byte) (*ProofSubmission, error) {
	claimedCode = strings.TrimSpace(claimedCode)

	var result *domain.CorroborationResult
	switch path {
	case domain.ProofPathXray:
		result = s.CorroborateXray(ctx, claimedCode, data)
	case domain.ProofPathLabReport:
		result = &domain.CorroborationResult{
			Status:        LabReportProofStatus(len(data) > 0),
			ClaimedCode:   claimedCode,
			DetectedBones: []string{},
			DetectedCodes: []string{},
		}
	default:
		return nil, domain.NewValidationError("proof_path", "must be lab_report or xray", string(path))
	}

	rec := s.proofs.Record(path, claimedCode, result.Status)
	s.logger.WithFields(logrus.Fields{
		"proof_id":   rec.ID,
		"proof_path": path,
		"status":     rec.Status,
	}).Info("Recorded proof")

	return &ProofSubmission{Proof: rec, Result: result}, nil
}

// Finalize combines the rule verdict with the recorded proof status, appends the decision to
// the audit trail and renders the decision report. A proof is consumed only when the
// decision is recorded.
func (s *PriorAuthService) Finalize(ctx context.Context, params FinalizeParams) (result *FinalizeResult, err error) {
	format := params.ReportFormat
	if format == "" {
		format = report.FormatPDF
	}

	proof := domain.ProofPending
	recorded := false
	if id := strings.TrimSpace(params.ProofID); id != "" {
		rec, ok := s.proofs.Take(id)
		if !ok {
			return nil, domain.NewValidationError("proof_id", "unknown, expired or already used proof", id)
		}
		// A finalization that fails before the audit entry is written leaves the proof usable.
		defer func() {
			if err != nil && !recorded {
				s.proofs.Restore(rec)
			}
		}()

		claimed := strings.TrimSpace(params.ICD10Code)
		if rec.Path == domain.ProofPathXray {
			if claimed == "" {
				params.ICD10Code = rec.ClaimedCode
			} else if !strings.EqualFold(claimed, rec.ClaimedCode) {
				return nil, domain.NewValidationError("icd10_code", "does not match the code the X-ray proof corroborated", claimed)
			}
		}
		proof = rec.Status
		params.ProofID = id
	}

	verdict, err := s.EvaluateRules(ctx, params.PatientID, params.TreatmentName, params.ProviderNPI)
	if err != nil {
		return nil, err
	}
	final := CombineDecision(verdict.Decision, proof)

	entry := &domain.AuditEntry{
		PatientID:     params.PatientID,
		TreatmentName: params.TreatmentName,
		ICD10Code:     params.ICD10Code,
		ProviderNPI:   params.ProviderNPI,
		RuleStatus:    verdict.Decision.String(),
		ProofStatus:   proof.String(),
		FinalDecision: final.String(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"patient_id": params.PatientID,
			"error":      err,
		}).Error("Failed to record audit entry")
		return nil, fmt.Errorf("recording audit entry: %w", err)
	}
	recorded = true

	rep := &domain.DecisionReport{
		PatientID:     params.PatientID,
		TreatmentName: params.TreatmentName,
		ProviderNPI:   params.ProviderNPI,
		RuleStatus:    verdict.Decision,
		ProofStatus:   proof,
		FinalDecision: final,
		Summary:       verdict.Summary(),
		GeneratedAt:   entry.Timestamp,
	}
	doc, err := report.RenderBytes(rep, format)
	if err != nil {
		return nil, fmt.Errorf("rendering report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"entry_id":       entry.EntryID,
		"patient_id":     params.PatientID,
		"rule_status":    verdict.Decision,
		"proof_status":   proof,
		"final_decision": final,
	}).Info("Finalized prior-authorization decision")

	return &FinalizeResult{
		FinalDecision: final,
		ProofID:       params.ProofID,
		Verdict:       verdict,
		Entry:         entry,
		Report:        rep,
		Document:      doc,
		Format:        format,
	}, nil
}
