package service

import "github.com/prior-auth-mcp-server/internal/domain"

// CombineDecision returns APPROVED only when the rules passed and the proof was approved.
// A PENDING proof is not an approval.
func CombineDecision(rule domain.Decision, proof domain.ProofStatus) domain.Decision {
	if rule == domain.APPROVED && proof == domain.ProofApproved {
		return domain.APPROVED
	}
	return domain.DENIED
}

// LabReportProofStatus is the proof status of the lab report path: an uploaded report
// substantiates the claim, no upload leaves it pending.
func LabReportProofStatus(uploaded bool) domain.ProofStatus {
	if uploaded {
		return domain.ProofApproved
	}
	return domain.ProofPending
}
