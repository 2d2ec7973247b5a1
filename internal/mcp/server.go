// Package mcp exposes the prior-authorization workflow as MCP tools for AI agents.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/service"
)

// Server is the prior-authorization MCP server
type Server struct {
	config        domain.MCPConfig
	service       *service.PriorAuthService
	audit         audit.Store
	mcpServer     *mcp.Server
	reportDir     string
	rules         domain.RulesConfig
	corroboration domain.CorroborationConfig
	logger        *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server)

// WithReportDir sets where finalize_decision writes PDF reports. Without it PDF reports are
// returned base64 encoded.
func WithReportDir(dir string) ServerOption {
	return func(s *Server) {
		s.reportDir = dir
	}
}

// WithPolicy sets the rule and corroboration settings published as MCP resources. The
// defaults are published otherwise.
func WithPolicy(rules domain.RulesConfig, corroboration domain.CorroborationConfig) ServerOption {
	return func(s *Server) {
		s.rules = rules
		s.corroboration = corroboration
	}
}

// NewServer creates a new MCP server instance and registers its tools, resources and prompts
func NewServer(cfg domain.MCPConfig, svc *service.PriorAuthService, store audit.Store, logger *logrus.Logger, opts ...ServerOption) *Server {
	name := cfg.ServerName
	if name == "" {
		name = "prior-auth-mcp-server"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "v0.1.0"
	}

	server := &Server{
		config:        cfg,
		service:       svc,
		audit:         store,
		mcpServer:     mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		rules:         domain.DefaultRulesConfig(),
		corroboration: domain.DefaultCorroborationConfig(),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(server)
	}

	server.registerTools()
	server.registerResources()
	server.registerPrompts()
	return server
}

// Start runs the MCP server over stdio until ctx is cancelled or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"transport": "stdio",
		"tools":     len(toolNames),
	}).Info("Starting prior-auth MCP server")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

var toolNames = []string{
	"process_document",
	"evaluate_rules",
	"resolve_treatment",
	"corroborate_fracture",
	"submit_proof",
	"finalize_decision",
	"query_audit",
}

// registerTools registers every prior-auth tool with the MCP SDK
func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "process_document",
		Description: "Extract patient ID, provider NPI and ICD-10 codes from a prior-authorization request document (PDF, DOCX or text, base64 encoded), resolve the treatment and evaluate the authorization rules.",
	}, s.handleProcessDocument)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "evaluate_rules",
		Description: "Evaluate the six prior-authorization rules for a patient, treatment and provider NPI. Returns APPROVED or DENIED with every failed rule reason.",
	}, s.handleEvaluateRules)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "resolve_treatment",
		Description: "Map ICD-10 diagnosis codes, in order, to the first registered treatment name.",
	}, s.handleResolveTreatment)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "corroborate_fracture",
		Description: "Check a claimed fracture ICD-10 code against bones detected in a base64 encoded X-ray image. Returns APPROVED, DENIED or PENDING. The result is informational and cannot be used to finalize; use submit_proof for that.",
	}, s.handleCorroborateFracture)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "submit_proof",
		Description: "Submit supporting proof for a claim: a lab report (proof_path=lab_report) or an X-ray image (proof_path=xray). No file leaves the proof PENDING. Returns a proof_id for finalize_decision.",
	}, s.handleSubmitProof)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "finalize_decision",
		Description: "Combine the rule verdict with the proof recorded under proof_id into the final decision, record it in the audit trail and render the decision report.",
	}, s.handleFinalizeDecision)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_audit",
		Description: "List finalized decisions from the audit trail, newest first, filtered by patient ID, provider NPI or final decision.",
	}, s.handleQueryAudit)

	s.logger.WithField("tool_count", len(toolNames)).Info("Registered MCP tools")
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
