package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/prior-auth-mcp-server/internal/domain"
)

func TestCombineDecision(t *testing.T) {
	tests := []struct {
		rule  domain.Decision
		proof domain.ProofStatus
		want  domain.Decision
	}{
		{domain.APPROVED, domain.ProofApproved, domain.APPROVED},
		{domain.APPROVED, domain.ProofPending, domain.DENIED},
		{domain.APPROVED, domain.ProofDenied, domain.DENIED},
		{domain.DENIED, domain.ProofApproved, domain.DENIED},
		{domain.DENIED, domain.ProofPending, domain.DENIED},
		{domain.DENIED, domain.ProofDenied, domain.DENIED},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CombineDecision(tt.rule, tt.proof), "%s + %s", tt.rule, tt.proof)
	}
}

func TestLabReportProofStatus(t *testing.T) {
	assert.Equal(t, domain.ProofApproved, LabReportProofStatus(true))
	assert.Equal(t, domain.ProofPending, LabReportProofStatus(false))
}
