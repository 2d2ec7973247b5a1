package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/middleware"
	"github.com/prior-auth-mcp-server/internal/report"
	"github.com/prior-auth-mcp-server/internal/service"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// EvaluateRequest identifies the request whose rules are evaluated.
type EvaluateRequest struct {
	PatientID     string `json:"patient_id"`
	TreatmentName string `json:"treatment_name"`
	ProviderNPI   string `json:"provider_npi"`
}

// TreatmentRequest carries the diagnosis codes to resolve, in document order.
type TreatmentRequest struct {
	ICD10Codes []string `json:"icd10_codes" binding:"required"`
}

// TreatmentResponse is the resolved treatment, if any.
type TreatmentResponse struct {
	TreatmentName string `json:"treatment_name,omitempty"`
	Found         bool   `json:"found"`
}

// ProofResponse is a corroboration result with its human readable message. ProofID is set
// when the outcome was recorded for finalization.
type ProofResponse struct {
	*domain.CorroborationResult
	ProofID string `json:"proof_id,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// FinalizeRequest is the body of a finalize call.
type FinalizeRequest struct {
	PatientID     string `json:"patient_id"`
	TreatmentName string `json:"treatment_name"`
	ProviderNPI   string `json:"provider_npi"`
	ICD10Code     string `json:"icd10_code"`
	ProofID       string `json:"proof_id"`
	// ProofStatus is rejected when set. The proof outcome is only taken from ProofID.
	ProofStatus string `json:"proof_status"`
}

// FinalizeResponse is returned when no document download was requested.
type FinalizeResponse struct {
	*service.FinalizeResult
	ReportText string `json:"report_text"`
}

// AuditListResponse is one page of the audit trail.
type AuditListResponse struct {
	Entries []*domain.AuditEntry `json:"entries"`
	Total   int64                `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
}

func (s *Server) handleDocument(c *gin.Context) {
	file, err := c.FormFile("document")
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "document file is required", err)
		return
	}
	data, err := readUpload(file)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "failed to read document", err)
		return
	}

	result, err := s.service.ProcessDocument(c.Request.Context(), file.Filename, file.Header.Get("Content-Type"), data)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleEvaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid request body", err)
		return
	}

	verdict, err := s.service.EvaluateRules(c.Request.Context(), req.PatientID, req.TreatmentName, req.ProviderNPI)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"decision": verdict.Decision,
		"failures": verdict.Failures,
		"summary":  verdict.Summary(),
	})
}

func (s *Server) handleTreatment(c *gin.Context) {
	var req TreatmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "icd10_codes is required", err)
		return
	}

	name, found, err := s.service.ResolveTreatment(c.Request.Context(), req.ICD10Codes)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, TreatmentResponse{TreatmentName: name, Found: found})
}

func (s *Server) handleCorroborate(c *gin.Context) {
	data, ok := s.optionalUpload(c, "image")
	if !ok {
		return
	}
	result := s.service.CorroborateXray(c.Request.Context(), c.PostForm("claimed_code"), data)
	c.JSON(http.StatusOK, proofResponse(result))
}

// handleProof accepts either proof path: a lab report upload or an X-ray image.
func (s *Server) handleProof(c *gin.Context) {
	data, ok := s.optionalUpload(c, "file")
	if !ok {
		return
	}
	path := domain.ProofPath(strings.ToLower(strings.TrimSpace(c.PostForm("proof_path"))))

	submission, err := s.service.SubmitProof(c.Request.Context(), path, c.PostForm("claimed_code"), data)
	if err != nil {
		s.respondServiceError(c, err)
		return
	}
	resp := proofResponse(submission.Result)
	resp.ProofID = submission.Proof.ID
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFinalize(c *gin.Context) {
	var req FinalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid request body", err)
		return
	}

	download := c.Query("format")
	format := report.FormatText
	if download != "" && download != "json" {
		f, err := report.ParseFormat(download)
		if err != nil {
			s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, err.Error(), err)
			return
		}
		format = f
	}

	if strings.TrimSpace(req.ProofStatus) != "" {
		s.respondServiceError(c, domain.NewValidationError("proof_status", "not accepted; submit proof first and pass its proof_id", req.ProofStatus))
		return
	}

	result, err := s.service.Finalize(c.Request.Context(), service.FinalizeParams{
		PatientID:     req.PatientID,
		TreatmentName: req.TreatmentName,
		ProviderNPI:   req.ProviderNPI,
		ICD10Code:     req.ICD10Code,
		ProofID:       req.ProofID,
		ReportFormat:  format,
	})
	if err != nil {
		s.respondServiceError(c, err)
		return
	}

	if download == "" || download == "json" {
		c.JSON(http.StatusOK, FinalizeResponse{FinalizeResult: result, ReportText: string(result.Document)})
		return
	}

	filename := fmt.Sprintf("prior_auth_%s.%s", sanitizeFilename(req.PatientID), result.Format.Extension())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("X-Final-Decision", result.FinalDecision.String())
	c.Header("X-Audit-Entry-ID", result.Entry.EntryID)
	c.Data(http.StatusOK, result.Format.ContentType(), result.Document)
}

func (s *Server) handleListAudit(c *gin.Context) {
	filter, err := auditFilter(c, defaultAuditLimit)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, err.Error(), err)
		return
	}

	ctx := c.Request.Context()
	entries, err := s.audit.List(ctx, filter)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to list audit entries", err)
		return
	}
	total, err := s.audit.Count(ctx, filter)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to count audit entries", err)
		return
	}

	c.JSON(http.StatusOK, AuditListResponse{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

func (s *Server) handleExportAudit(c *gin.Context) {
	filter, err := auditFilter(c, 0)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, err.Error(), err)
		return
	}

	var (
		contentType string
		extension   string
		export      func(ctx context.Context, w io.Writer) error
	)
	switch format := strings.ToLower(c.DefaultQuery("format", "csv")); format {
	case "csv":
		contentType, extension = "text/csv; charset=utf-8", "csv"
		export = func(ctx context.Context, w io.Writer) error { return s.audit.ExportCSV(ctx, filter, w) }
	case "json":
		contentType, extension = "application/json", "json"
		export = func(ctx context.Context, w io.Writer) error { return s.audit.ExportJSON(ctx, filter, w) }
	case "xlsx":
		contentType, extension = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx"
		export = func(ctx context.Context, w io.Writer) error { return audit.ExportXLSX(ctx, s.audit, filter, w) }
	default:
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, fmt.Sprintf("unsupported export format %q", format), nil)
		return
	}

	// Buffer so a failed export still gets a proper error response
	var buf bytes.Buffer
	if err := export(c.Request.Context(), &buf); err != nil {
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to export audit log", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit_log."+extension))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// respondServiceError maps workflow errors to HTTP statuses.
func (s *Server) respondServiceError(c *gin.Context, err error) {
	var (
		ve *domain.ValidationError
		xe *domain.ExtractionError
		ie *domain.InferenceError
	)
	switch {
	case errors.As(err, &ve):
		s.respondError(c, http.StatusBadRequest, domain.ErrValidation, ve.Error(), err)
	case errors.As(err, &xe):
		s.respondError(c, http.StatusUnprocessableEntity, domain.ErrExtraction, "failed to extract document text", err)
	case errors.As(err, &ie):
		s.respondError(c, http.StatusBadGateway, domain.ErrInferenceError, "detection backend failed", err)
	case errors.Is(err, context.DeadlineExceeded):
		s.respondError(c, http.StatusGatewayTimeout, domain.ErrInternalServer, "request timed out", err)
	default:
		s.respondError(c, http.StatusInternalServerError, domain.ErrDatabaseError, "failed to evaluate request", err)
	}
}

func (s *Server) respondError(c *gin.Context, status int, code, message string, err error) {
	requestID := c.GetString(middleware.RequestIDKey)
	details := ""
	if err != nil {
		_ = c.Error(err)
		if status < http.StatusInternalServerError {
			details = err.Error()
		}
	}

	if status >= http.StatusInternalServerError {
		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"code":       code,
			"error":      err,
		}).Error(message)
	}

	c.AbortWithStatusJSON(status, domain.NewAPIError(code, message, details, requestID))
}

// optionalUpload reads a multipart file field. A missing field yields nil data; it reports
// false after writing an error response when the upload is unreadable.
func (s *Server) optionalUpload(c *gin.Context, field string) ([]byte, bool) {
	file, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, true
	}
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "invalid multipart upload", err)
		return nil, false
	}
	data, err := readUpload(file)
	if err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrInvalidInput, "failed to read "+field, err)
		return nil, false
	}
	return data, true
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func proofResponse(result *domain.CorroborationResult) ProofResponse {
	resp := ProofResponse{CorroborationResult: result, Message: result.Message()}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

func auditFilter(c *gin.Context, defaultLimit int) (audit.Filter, error) {
	filter := audit.Filter{
		PatientID:   strings.TrimSpace(c.Query("patient_id")),
		ProviderNPI: strings.TrimSpace(c.Query("provider_npi")),
		Limit:       defaultLimit,
	}

	if v := strings.TrimSpace(c.Query("final_decision")); v != "" {
		d, err := domain.ParseDecision(v)
		if err != nil {
			return filter, err
		}
		filter.FinalDecision = d.String()
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}
	if filter.Limit > maxAuditLimit && defaultLimit > 0 {
		filter.Limit = maxAuditLimit
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}
	return filter, nil
}

func sanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
