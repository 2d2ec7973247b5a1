package domain

import (
	"strings"
	"time"
)

// ReasonKind tags a rule failure so callers can filter failures without parsing messages.
type ReasonKind string

const (
	ReasonProviderNPIInvalid        ReasonKind = "PROVIDER_NPI_INVALID"
	ReasonPatientNotFound           ReasonKind = "PATIENT_NOT_FOUND"
	ReasonClaimDateOutOfWindow      ReasonKind = "CLAIM_DATE_OUT_OF_WINDOW"
	ReasonProviderNotFound          ReasonKind = "PROVIDER_NOT_FOUND"
	ReasonProviderInactive          ReasonKind = "PROVIDER_INACTIVE"
	ReasonTreatmentNotAuthorized    ReasonKind = "TREATMENT_NOT_AUTHORIZED"
	ReasonServicesExceedBenes       ReasonKind = "SERVICES_EXCEED_BENEFICIARIES"
	ReasonUtilizationDataNotFound   ReasonKind = "UTILIZATION_DATA_NOT_FOUND"
	ReasonProviderSpecialtyMismatch ReasonKind = "PROVIDER_SPECIALTY_MISMATCH"
)

// AllRulesPassed is the exact summary text of a clean approval.
const AllRulesPassed = "All rules passed"

// RuleFailure is one failed predicate: a machine readable kind plus the user facing message.
type RuleFailure struct {
	Kind    ReasonKind `json:"kind"`
	Message string     `json:"message"`
}

// RuleVerdict is the rule engine outcome. Decision is DENIED iff Failures is non-empty.
type RuleVerdict struct {
	Decision    Decision      `json:"decision"`
	Failures    []RuleFailure `json:"failures"`
	EvaluatedAt time.Time     `json:"evaluated_at"`
}

// NewRuleVerdict derives the decision from the accumulated failures.
func NewRuleVerdict(failures []RuleFailure, evaluatedAt time.Time) *RuleVerdict {
	decision := APPROVED
	if len(failures) > 0 {
		decision = DENIED
	}
	if failures == nil {
		failures = []RuleFailure{}
	}
	return &RuleVerdict{
		Decision:    decision,
		Failures:    failures,
		EvaluatedAt: evaluatedAt,
	}
}

// Reasons returns the failure messages in evaluation order.
func (v *RuleVerdict) Reasons() []string {
	reasons := make([]string, 0, len(v.Failures))
	for _, f := range v.Failures {
		reasons = append(reasons, f.Message)
	}
	return reasons
}

// Summary joins the reasons with "; ", or returns AllRulesPassed when there are none.
func (v *RuleVerdict) Summary() string {
	if len(v.Failures) == 0 {
		return AllRulesPassed
	}
	return strings.Join(v.Reasons(), "; ")
}

// Has reports whether a failure of the given kind was recorded.
func (v *RuleVerdict) Has(kind ReasonKind) bool {
	for _, f := range v.Failures {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
