package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prior-auth-mcp-server/internal/domain"
)

func TestRulesResource(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleRulesResource(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, rulesResourceURI, res.Contents[0].URI)
	assert.Equal(t, "application/json", res.Contents[0].MIMEType)

	var doc RulesDocument
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &doc))
	assert.Equal(t, 3*365, doc.ClaimWindowDays)
	assert.Len(t, doc.Rules, 6)
	assert.Contains(t, doc.Rules[5].Reasons, domain.ReasonProviderSpecialtyMismatch)
	assert.Contains(t, doc.TreatmentSpecialties, domain.TreatmentSpecialty{Treatment: "Fracture", Specialty: "Orthologist"})
}

func TestFractureResource_WithPolicy(t *testing.T) {
	corroboration := domain.DefaultCorroborationConfig()
	corroboration.ConfidenceThreshold = 0.7
	s := newTestServer(t, WithPolicy(domain.DefaultRulesConfig(), corroboration))

	res, err := s.handleFractureResource(context.Background(), nil)
	require.NoError(t, err)

	var doc FractureDocument
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &doc))
	assert.Equal(t, 0.7, doc.ConfidenceThreshold)
	assert.Equal(t, []string{"femur", "tibia", "radius", "ulna"}, doc.BoneClasses)
	assert.Len(t, doc.FractureFamilies, 3)
}

func TestAuditResource(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleAuditResource(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", res.Contents[0].Text)

	require.NoError(t, s.audit.Record(ctx, &domain.AuditEntry{PatientID: "P7", FinalDecision: "APPROVED"}))
	res, err = s.handleAuditResource(ctx, nil)
	require.NoError(t, err)

	var entries []domain.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "P7", entries[0].PatientID)
	assert.NotEmpty(t, entries[0].EntryID)
}
