// Package domain contains the core business entities for automated prior-authorization (PA)
// decisions: the read-only lookup records the rule engine evaluates, the verdicts it produces,
// the fracture corroboration results derived from X-ray detection, and the audit trail entries.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Decision is the binary outcome of the rule engine and of the final PA decision.
type Decision string

const (
	APPROVED Decision = "APPROVED"
	DENIED   Decision = "DENIED"
)

// ProofStatus is the three-valued outcome of the supporting-proof step.
// PENDING is a distinct state and must never be collapsed into DENIED before the combiner.
type ProofStatus string

const (
	ProofPending  ProofStatus = "PENDING"
	ProofApproved ProofStatus = "APPROVED"
	ProofDenied   ProofStatus = "DENIED"
)

// ProofPath selects how a claim is substantiated.
type ProofPath string

const (
	ProofPathLabReport ProofPath = "lab_report"
	ProofPathXray      ProofPath = "xray"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidDecision  = errors.New("invalid decision")
	ErrInvalidProof     = errors.New("invalid proof status")
	ErrInvalidProofPath = errors.New("invalid proof path")
)

// IsValid reports whether d is one of the known decisions.
func (d Decision) IsValid() bool {
	return d == APPROVED || d == DENIED
}

func (d Decision) String() string {
	return string(d)
}

// IsValid reports whether s is one of the known proof states.
func (s ProofStatus) IsValid() bool {
	switch s {
	case ProofPending, ProofApproved, ProofDenied:
		return true
	default:
		return false
	}
}

func (s ProofStatus) String() string {
	return string(s)
}

// IsValid reports whether p is a supported proof path.
func (p ProofPath) IsValid() bool {
	return p == ProofPathLabReport || p == ProofPathXray
}

// ParseDecision converts a stored or user supplied value into a Decision.
func ParseDecision(s string) (Decision, error) {
	d := Decision(strings.ToUpper(strings.TrimSpace(s)))
	if !d.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
	}
	return d, nil
}

// ParseProofStatus converts a stored or user supplied value into a ProofStatus.
func ParseProofStatus(s string) (ProofStatus, error) {
	p := ProofStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidProof, s)
	}
	return p, nil
}

// PatientRecord is a row of the patient table. Age is kept as stored text and parsed leniently.
type PatientRecord struct {
	ID          string `json:"patient_id"`
	Age         string `json:"age"`
	InsuranceID string `json:"insurance_id"`
}

// InsuranceRecord is a row of the insurance table.
type InsuranceRecord struct {
	InsuranceID string `json:"insurance_id"`
	ClaimDate   string `json:"claim_date"`
}

// ProviderRecord is a row of the provider table. Dates and counts are free text in the
// source data and are parsed leniently by the rule engine.
type ProviderRecord struct {
	NPI                int64  `json:"npi"`
	StartDate          string `json:"start_date"`
	EndDate            string `json:"end_date"`
	ProviderType       string `json:"provider_type"`
	TotalServices      string `json:"total_services"`
	TotalBeneficiaries string `json:"total_beneficiaries"`
}

// TreatmentRecord maps one ICD-10 code to a treatment name. Many codes may share a name.
type TreatmentRecord struct {
	TreatmentName string `json:"treatment_name"`
	ICD10Code     string `json:"icd10_code"`
}

// ExtractedIdentifiers holds what the document extractor found. Empty strings mean absent.
type ExtractedIdentifiers struct {
	PatientID   string   `json:"patient_id,omitempty"`
	ProviderNPI string   `json:"provider_npi,omitempty"`
	ICD10Codes  []string `json:"icd10_codes"`
}

// ClaimedCode returns the diagnosis code used for corroboration: the first extracted code.
func (e *ExtractedIdentifiers) ClaimedCode() string {
	if e == nil || len(e.ICD10Codes) == 0 {
		return ""
	}
	return e.ICD10Codes[0]
}

// DetectionResult is a single detection that survived confidence thresholding.
type DetectionResult struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
}

// CorroborationResult is the outcome of checking a claimed fracture code against X-ray detections.
type CorroborationResult struct {
	Status        ProofStatus       `json:"status"`
	ClaimedCode   string            `json:"claimed_code,omitempty"`
	AllowedCodes  []string          `json:"allowed_codes,omitempty"`
	Detections    []DetectionResult `json:"detections,omitempty"`
	DetectedBones []string          `json:"detected_bones"`
	DetectedCodes []string          `json:"detected_codes"`
	MatchedBone   string            `json:"matched_bone,omitempty"`
	MatchedCode   string            `json:"matched_code,omitempty"`
	Err           error             `json:"-"`
}

// ProofRecord is a proof outcome held by the server until a decision is finalized with it.
// Finalizing takes the status from here, never from the caller.
type ProofRecord struct {
	ID          string      `json:"proof_id"`
	Path        ProofPath   `json:"proof_path"`
	ClaimedCode string      `json:"claimed_code,omitempty"`
	Status      ProofStatus `json:"status"`
	RecordedAt  time.Time   `json:"recorded_at"`
}

// Message renders a one-line, human readable explanation of the corroboration outcome.
func (r *CorroborationResult) Message() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("Fracture verification error: %v", r.Err)
	case r.Status == ProofApproved:
		return fmt.Sprintf("Fracture verified. Detected: %s, Code: %s", r.MatchedBone, r.MatchedCode)
	case r.Status == ProofDenied:
		return fmt.Sprintf("Fracture verification failed (Expected: %s, Got: [%s])",
			r.ClaimedCode, strings.Join(r.DetectedCodes, ", "))
	default:
		return "Fracture verification pending"
	}
}

// AuditEntry is an append-only record of a finalized PA decision.
type AuditEntry struct {
	ID            int64     `json:"id,omitempty"`
	EntryID       string    `json:"entry_id"`
	Timestamp     time.Time `json:"timestamp"`
	PatientID     string    `json:"patient_id"`
	TreatmentName string    `json:"treatment_name"`
	ICD10Code     string    `json:"icd10_code"`
	ProviderNPI   string    `json:"provider_npi"`
	RuleStatus    string    `json:"rule_status"`
	ProofStatus   string    `json:"proof_status"`
	FinalDecision string    `json:"final_decision"`
}

// DecisionReport is everything the report renderer embeds in a downloadable document.
type DecisionReport struct {
	PatientID     string      `json:"patient_id"`
	TreatmentName string      `json:"treatment_name"`
	ProviderNPI   string      `json:"provider_npi"`
	RuleStatus    Decision    `json:"rule_status"`
	ProofStatus   ProofStatus `json:"proof_status"`
	FinalDecision Decision    `json:"final_decision"`
	Summary       string      `json:"summary"`
	GeneratedAt   time.Time   `json:"generated_at"`
}
