package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDecisionConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    Decision
		expected string
	}{
		{"Approved", APPROVED, "APPROVED"},
		{"Denied", DENIED, "DENIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.value))
			}
			if !tt.value.IsValid() {
				t.Errorf("Expected %s to be valid", tt.value)
			}
		})
	}
}

func TestProofStatusIsDistinctFromDecision(t *testing.T) {
	if !ProofPending.IsValid() {
		t.Fatal("PENDING must be a valid proof status")
	}
	if Decision(ProofPending).IsValid() {
		t.Error("PENDING must not be a valid final decision")
	}
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" approved ")
	if err != nil || d != APPROVED {
		t.Errorf("Expected APPROVED, got %s (%v)", d, err)
	}

	_, err = ParseDecision("PENDING")
	if !errors.Is(err, ErrInvalidDecision) {
		t.Errorf("Expected ErrInvalidDecision, got %v", err)
	}
}

func TestParseProofStatus(t *testing.T) {
	for _, in := range []string{"pending", "APPROVED", "Denied"} {
		if _, err := ParseProofStatus(in); err != nil {
			t.Errorf("Expected %q to parse, got %v", in, err)
		}
	}
	if _, err := ParseProofStatus("maybe"); !errors.Is(err, ErrInvalidProof) {
		t.Errorf("Expected ErrInvalidProof, got %v", err)
	}
}

func TestRuleVerdict(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	t.Run("no failures approves", func(t *testing.T) {
		v := NewRuleVerdict(nil, now)
		if v.Decision != APPROVED {
			t.Errorf("Expected APPROVED, got %s", v.Decision)
		}
		if v.Summary() != "All rules passed" {
			t.Errorf("Unexpected summary %q", v.Summary())
		}
		if v.Failures == nil {
			t.Error("Failures should be an empty slice, not nil")
		}
	})

	t.Run("failures deny and join in order", func(t *testing.T) {
		v := NewRuleVerdict([]RuleFailure{
			{Kind: ReasonPatientNotFound, Message: "Patient not found"},
			{Kind: ReasonProviderNotFound, Message: "Provider not found"},
		}, now)
		if v.Decision != DENIED {
			t.Errorf("Expected DENIED, got %s", v.Decision)
		}
		if v.Summary() != "Patient not found; Provider not found" {
			t.Errorf("Unexpected summary %q", v.Summary())
		}
		if !v.Has(ReasonProviderNotFound) || v.Has(ReasonProviderInactive) {
			t.Error("Has() reported the wrong kinds")
		}
	})
}

func TestExtractedIdentifiersClaimedCode(t *testing.T) {
	var nilIDs *ExtractedIdentifiers
	if nilIDs.ClaimedCode() != "" {
		t.Error("nil identifiers should have no claimed code")
	}
	ids := &ExtractedIdentifiers{ICD10Codes: []string{"S72.0", "N18.6"}}
	if ids.ClaimedCode() != "S72.0" {
		t.Errorf("Expected first code, got %s", ids.ClaimedCode())
	}
}

func TestCorroborationResultMessage(t *testing.T) {
	approved := &CorroborationResult{Status: ProofApproved, MatchedBone: "femur", MatchedCode: "S72.0"}
	if approved.Message() != "Fracture verified. Detected: femur, Code: S72.0" {
		t.Errorf("Unexpected message %q", approved.Message())
	}

	denied := &CorroborationResult{Status: ProofDenied, ClaimedCode: "S72.0", DetectedCodes: []string{"S82.5"}}
	if denied.Message() != "Fracture verification failed (Expected: S72.0, Got: [S82.5])" {
		t.Errorf("Unexpected message %q", denied.Message())
	}

	pending := &CorroborationResult{Status: ProofPending}
	if pending.Message() != "Fracture verification pending" {
		t.Errorf("Unexpected message %q", pending.Message())
	}
}

func TestConfigLookups(t *testing.T) {
	rules := DefaultRulesConfig()
	if rules.ClaimWindowDays != 1095 {
		t.Errorf("Expected 1095 day window, got %d", rules.ClaimWindowDays)
	}
	if rules.SpecialtyMap()["Angioplasty"] != "Cardiologist" {
		t.Error("Angioplasty should map to Cardiologist")
	}

	corr := DefaultCorroborationConfig()
	if corr.BoneCodeMap()["ulna"] != "S52.6" {
		t.Error("ulna should map to S52.6")
	}
	if got := corr.FamilyMap()["S72.0"]; len(got) != 4 || got[3] != "S72.3" {
		t.Errorf("Unexpected S72.0 family %v", got)
	}
}

func TestTensorLen(t *testing.T) {
	if (Tensor{}).Len() != 0 {
		t.Error("empty tensor should have zero length")
	}
	if (Tensor{Shape: []int{1, 3, 640, 640}}).Len() != 3*640*640 {
		t.Error("unexpected element count")
	}
}
