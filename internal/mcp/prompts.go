package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "prior_auth_review",
		Description: "Walk through a prior-authorization request: rules, proof and final decision.",
		Arguments: []*mcp.PromptArgument{
			{Name: "patient_id", Description: "Patient identifier", Required: true},
			{Name: "provider_npi", Description: "10 digit provider NPI", Required: true},
			{Name: "icd10_codes", Description: "Comma separated ICD-10 codes from the request"},
			{Name: "treatment_name", Description: "Treatment name, when already known"},
		},
	}, s.handleReviewPrompt)

	s.mcpServer.AddPrompt(&mcp.Prompt{
		Name:        "explain_decision",
		Description: "Explain a prior-authorization decision to the requesting provider in plain language.",
		Arguments: []*mcp.PromptArgument{
			{Name: "final_decision", Description: "APPROVED or DENIED", Required: true},
			{Name: "reasons", Description: "Rule failure reasons, one per line"},
			{Name: "proof_status", Description: "APPROVED, DENIED or PENDING"},
		},
	}, s.handleExplainPrompt)
}

func (s *Server) handleReviewPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text, err := reviewPrompt(promptArgs(req))
	if err != nil {
		return nil, err
	}
	return userPrompt("Prior-authorization review", text), nil
}

func (s *Server) handleExplainPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	text, err := explainPrompt(promptArgs(req))
	if err != nil {
		return nil, err
	}
	return userPrompt("Decision explanation", text), nil
}

func promptArgs(req *mcp.GetPromptRequest) map[string]string {
	if req == nil || req.Params == nil {
		return nil
	}
	return req.Params.Arguments
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text}},
		},
	}
}

func reviewPrompt(args map[string]string) (string, error) {
	patientID := strings.TrimSpace(args["patient_id"])
	npi := strings.TrimSpace(args["provider_npi"])
	if patientID == "" || npi == "" {
		return "", fmt.Errorf("patient_id and provider_npi are required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Review the prior-authorization request for patient %s from provider NPI %s.\n\n", patientID, npi)

	step := 1
	treatment := strings.TrimSpace(args["treatment_name"])
	if treatment == "" {
		codes := strings.TrimSpace(args["icd10_codes"])
		if codes == "" {
			codes = "the ICD-10 codes in the request"
		}
		fmt.Fprintf(&b, "%d. Call resolve_treatment with %s to find the treatment. If none matches, the treatment is None.\n", step, codes)
		step++
		treatment = "the resolved treatment"
	}
	fmt.Fprintf(&b, "%d. Call evaluate_rules for %s and list every failed rule reason exactly as returned.\n", step, treatment)
	step++
	fmt.Fprintf(&b, "%d. If the rules are APPROVED, ask for proof: an X-ray for fracture codes (submit_proof with proof_path=xray and the claimed code) or a lab report otherwise. Read %s for the accepted fracture codes.\n", step, fractureResourceURI)
	step++
	fmt.Fprintf(&b, "%d. Call finalize_decision with the proof_id that submit_proof returned. The decision is APPROVED only when the rules and the proof are both APPROVED.\n", step)
	step++
	fmt.Fprintf(&b, "%d. Report the final decision, the audit entry ID and each reason to the user.\n", step)
	return b.String(), nil
}

func explainPrompt(args map[string]string) (string, error) {
	decision := strings.ToUpper(strings.TrimSpace(args["final_decision"]))
	if decision == "" {
		return "", fmt.Errorf("final_decision is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The prior-authorization request was %s.\n", decision)
	if proof := strings.TrimSpace(args["proof_status"]); proof != "" {
		fmt.Fprintf(&b, "Proof status: %s.\n", strings.ToUpper(proof))
	}
	if reasons := strings.TrimSpace(args["reasons"]); reasons != "" {
		b.WriteString("Rule failures:\n")
		for _, r := range strings.Split(reasons, "\n") {
			if r = strings.TrimSpace(r); r != "" {
				fmt.Fprintf(&b, "- %s\n", r)
			}
		}
	}
	fmt.Fprintf(&b, "\nWrite a short explanation for the requesting provider. Keep each reason as written, say what would change the outcome, and do not speculate beyond the listed reasons. The rule definitions are in %s.\n", rulesResourceURI)
	return b.String(), nil
}
