package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/domain"
)

const (
	rulesResourceURI    = "prior-auth://policy/rules"
	fractureResourceURI = "prior-auth://policy/fracture-codes"
	auditResourceURI    = "prior-auth://audit/recent"

	recentAuditLimit = 20
)

// RuleDescription documents one authorization rule and the reason reported when it fails.
type RuleDescription struct {
	Number  int                 `json:"number"`
	Check   string              `json:"check"`
	Reasons []domain.ReasonKind `json:"reasons"`
}

// RulesDocument is the rules policy resource.
type RulesDocument struct {
	ClaimWindowDays      int                         `json:"claim_window_days"`
	DateFormats          []string                    `json:"date_formats"`
	TreatmentSpecialties []domain.TreatmentSpecialty `json:"treatment_specialties"`
	Rules                []RuleDescription           `json:"rules"`
}

// FractureDocument is the fracture corroboration policy resource.
type FractureDocument struct {
	ConfidenceThreshold float64                 `json:"confidence_threshold"`
	ImageSize           int                     `json:"image_size"`
	BoneClasses         []string                `json:"bone_classes"`
	BoneCodes           []domain.BoneCode       `json:"bone_codes"`
	FractureFamilies    []domain.FractureFamily `json:"fracture_families"`
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(&mcp.Resource{
		URI:         rulesResourceURI,
		Name:        "authorization-rules",
		Description: "The six prior-authorization rules, the claim window, accepted date formats and the treatment to specialty table.",
		MIMEType:    "application/json",
	}, s.handleRulesResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         fractureResourceURI,
		Name:        "fracture-codes",
		Description: "Detection classes, the bone to ICD-10 map and the fracture code families used to corroborate X-ray proof.",
		MIMEType:    "application/json",
	}, s.handleFractureResource)

	s.mcpServer.AddResource(&mcp.Resource{
		URI:         auditResourceURI,
		Name:        "recent-decisions",
		Description: fmt.Sprintf("The %d most recent finalized decisions from the audit trail.", recentAuditLimit),
		MIMEType:    "application/json",
	}, s.handleAuditResource)
}

func (s *Server) rulesDocument() RulesDocument {
	return RulesDocument{
		ClaimWindowDays:      s.rules.ClaimWindowDays,
		DateFormats:          s.rules.DateFormats,
		TreatmentSpecialties: s.rules.TreatmentSpecialties,
		Rules: []RuleDescription{
			{Number: 1, Check: "provider NPI is 10 digits", Reasons: []domain.ReasonKind{domain.ReasonProviderNPIInvalid}},
			{Number: 2, Check: "patient exists", Reasons: []domain.ReasonKind{domain.ReasonPatientNotFound}},
			{Number: 3, Check: fmt.Sprintf("insurance claim date within %d days of today", s.rules.ClaimWindowDays), Reasons: []domain.ReasonKind{domain.ReasonClaimDateOutOfWindow}},
			{Number: 4, Check: "provider exists and is active on the claim date", Reasons: []domain.ReasonKind{domain.ReasonProviderNotFound, domain.ReasonProviderInactive}},
			{Number: 5, Check: "treatment is authorized for the patient", Reasons: []domain.ReasonKind{domain.ReasonTreatmentNotAuthorized}},
			{Number: 6, Check: "provider services do not exceed beneficiaries and the specialty matches the treatment", Reasons: []domain.ReasonKind{domain.ReasonServicesExceedBenes, domain.ReasonUtilizationDataNotFound, domain.ReasonProviderSpecialtyMismatch}},
		},
	}
}

func (s *Server) fractureDocument() FractureDocument {
	return FractureDocument{
		ConfidenceThreshold: s.corroboration.ConfidenceThreshold,
		ImageSize:           s.corroboration.ImageSize,
		BoneClasses:         s.corroboration.BoneClasses,
		BoneCodes:           s.corroboration.BoneCodes,
		FractureFamilies:    s.corroboration.FractureFamilies,
	}
}

func (s *Server) handleRulesResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(rulesResourceURI, s.rulesDocument())
}

func (s *Server) handleFractureResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return jsonResource(fractureResourceURI, s.fractureDocument())
}

func (s *Server) handleAuditResource(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	entries, err := s.audit.List(ctx, audit.Filter{Limit: recentAuditLimit})
	if err != nil {
		s.logger.WithField("error", err).Error("Failed to read recent audit entries")
		return nil, fmt.Errorf("reading audit trail: %w", err)
	}
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}
	return jsonResource(auditResourceURI, entries)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: uri, MIMEType: "application/json", Text: string(data)},
		},
	}, nil
}
