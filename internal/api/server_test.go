package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prior-auth-mcp-server/internal/audit"
	"github.com/prior-auth-mcp-server/internal/database"
	"github.com/prior-auth-mcp-server/internal/domain"
	"github.com/prior-auth-mcp-server/internal/extract"
	"github.com/prior-auth-mcp-server/internal/repository"
	"github.com/prior-auth-mcp-server/internal/service"
)

var testToday = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDetector struct {
	rows [][]float32
}

func (d stubDetector) Detect(context.Context, domain.Tensor) ([][]float32, error) {
	return d.rows, nil
}

type testServer struct {
	server *Server
	audit  audit.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	dir := t.TempDir()

	db, err := database.OpenSQLite(ctx, filepath.Join(dir, "records.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := repository.NewSQLiteRecordRepository(db, logger)
	_, err = repo.LoadPatients(ctx, []domain.PatientRecord{{ID: "P1", Age: "40", InsuranceID: "I1"}})
	require.NoError(t, err)
	_, err = repo.LoadInsurance(ctx, []domain.InsuranceRecord{{InsuranceID: "I1", ClaimDate: "2025-06-01"}})
	require.NoError(t, err)
	_, err = repo.LoadProviders(ctx, []domain.ProviderRecord{{
		NPI: 1234567890, StartDate: "2020-01-01", EndDate: "2030-12-31",
		ProviderType: "Cardiologist", TotalServices: "10", TotalBeneficiaries: "20",
	}})
	require.NoError(t, err)
	_, err = repo.LoadTreatments(ctx, []domain.TreatmentRecord{{TreatmentName: "Angioplasty", ICD10Code: "I25.10"}})
	require.NoError(t, err)

	store, err := audit.NewSQLiteStore(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// class 0 (femur) with joint confidence 0.9 * 0.95
	detector := stubDetector{rows: [][]float32{{0, 0, 1, 1, 0.9, 0.95, 0.01, 0.01, 0.01}}}
	corroboration := domain.DefaultCorroborationConfig()
	corroboration.ImageSize = 32

	svc := service.NewPriorAuthService(
		service.NewIdentifierExtractor(extract.NewExtractor("pdftotext"), logger),
		service.NewTreatmentResolver(repo, logger),
		service.NewRuleEngine(repo, domain.DefaultRulesConfig(), logger,
			service.WithClock(func() time.Time { return testToday })),
		service.NewCorroborator(detector, corroboration, time.Second, logger),
		store,
		logger,
	)

	cfg := &domain.Config{
		Server:  domain.ServerConfig{MaxUploadBytes: 1 << 20, RequestTimeout: 5 * time.Second},
		Logging: domain.LoggingConfig{Level: "error"},
		MCP:     domain.MCPConfig{ServerVersion: "test"},
	}
	return &testServer{server: NewServer(cfg, svc, store, logger), audit: store}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, target string, fields map[string]string, fileField, filename string, content []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func xrayPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 20; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHealth_ComponentChecks(t *testing.T) {
	ts := newTestServer(t)

	ts.server.health = func(context.Context) map[string]error {
		return map[string]error{"records": nil}
	}
	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, map[string]any{"records": "ok"}, body["checks"])

	ts.server.health = func(context.Context) map[string]error {
		return map[string]error{"records": errors.New("connection refused")}
	}
	w = ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body = decode[map[string]any](t, w)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, map[string]any{"records": "connection refused"}, body["checks"])
}

func TestEvaluate(t *testing.T) {
	ts := newTestServer(t)

	t.Run("approved", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/evaluate", EvaluateRequest{
			PatientID: "P1", TreatmentName: "Angioplasty", ProviderNPI: "1234567890",
		}))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode[map[string]any](t, w)
		assert.Equal(t, "APPROVED", body["decision"])
		assert.Equal(t, "All rules passed", body["summary"])
	})

	t.Run("unknown patient", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/evaluate", EvaluateRequest{
			PatientID: "P404", TreatmentName: "Angioplasty", ProviderNPI: "1234567890",
		}))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "DENIED", body["decision"])
		assert.Contains(t, body["summary"], "Patient not found")
	})

	t.Run("invalid npi is a denied verdict", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/evaluate", EvaluateRequest{
			PatientID: "P1", TreatmentName: "Angioplasty", ProviderNPI: "12AB",
		}))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "DENIED", body["decision"])
		assert.Equal(t, "Provider NPI invalid", body["summary"])
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/prior-auth/evaluate", strings.NewReader("{"))
		req.Header.Set("Content-Type", "application/json")
		w := ts.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		apiErr := decode[domain.APIError](t, w)
		assert.Equal(t, domain.ErrInvalidInput, apiErr.Code)
		assert.NotEmpty(t, apiErr.RequestID)
	})
}

func TestTreatment(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/treatment", TreatmentRequest{
		ICD10Codes: []string{"Z00", "I25.10"},
	}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, TreatmentResponse{TreatmentName: "Angioplasty", Found: true}, decode[TreatmentResponse](t, w))

	w = ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/treatment", TreatmentRequest{ICD10Codes: []string{"Z00"}}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, TreatmentResponse{}, decode[TreatmentResponse](t, w))

	w = ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/treatment", map[string]any{}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocument(t *testing.T) {
	ts := newTestServer(t)
	doc := []byte("Patient ID: P1\nRendering provider NPI: 1234567890\nDiagnosis: I25.10")

	w := ts.do(multipartRequest(t, "/api/v1/prior-auth/documents", nil, "document", "request.txt", doc))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	result := decode[service.DocumentResult](t, w)
	assert.Equal(t, "P1", result.Identifiers.PatientID)
	assert.Equal(t, "1234567890", result.Identifiers.ProviderNPI)
	assert.Equal(t, "Angioplasty", result.TreatmentName)
	assert.Equal(t, domain.APPROVED, result.Verdict.Decision)

	w = ts.do(multipartRequest(t, "/api/v1/prior-auth/documents", nil, "", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCorroborate(t *testing.T) {
	ts := newTestServer(t)

	t.Run("family match approves", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/api/v1/prior-auth/corroborate",
			map[string]string{"claimed_code": "S72.0"}, "image", "xray.png", xrayPNG(t)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode[map[string]any](t, w)
		assert.Equal(t, "APPROVED", body["status"])
		assert.Equal(t, "femur", body["matched_bone"])
		assert.Equal(t, "Fracture verified. Detected: femur, Code: S72.0", body["message"])
	})

	t.Run("no image stays pending", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/api/v1/prior-auth/corroborate",
			map[string]string{"claimed_code": "S72.0"}, "", "", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "PENDING", decode[map[string]any](t, w)["status"])
	})

	t.Run("other family denies", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/api/v1/prior-auth/corroborate",
			map[string]string{"claimed_code": "S82.5"}, "image", "xray.png", xrayPNG(t)))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "DENIED", decode[map[string]any](t, w)["status"])
	})

	t.Run("undecodable image is denied with error", func(t *testing.T) {
		w := ts.do(multipartRequest(t, "/api/v1/prior-auth/corroborate",
			map[string]string{"claimed_code": "S72.0"}, "image", "xray.png", []byte("garbage")))
		require.Equal(t, http.StatusOK, w.Code)
		body := decode[map[string]any](t, w)
		assert.Equal(t, "DENIED", body["status"])
		assert.NotEmpty(t, body["error"])
	})
}

func submitLabProof(t *testing.T, ts *testServer) string {
	t.Helper()
	w := ts.do(multipartRequest(t, "/api/v1/prior-auth/proof",
		map[string]string{"proof_path": "lab_report"}, "file", "lab.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	id, _ := decode[map[string]any](t, w)["proof_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestProof(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(multipartRequest(t, "/api/v1/prior-auth/proof",
		map[string]string{"proof_path": "lab_report"}, "file", "lab.pdf", []byte("%PDF-1.4")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "APPROVED", body["status"])
	assert.NotEmpty(t, body["proof_id"])

	w = ts.do(multipartRequest(t, "/api/v1/prior-auth/proof",
		map[string]string{"proof_path": "mri"}, "", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrValidation, decode[domain.APIError](t, w).Code)
}

func TestFinalize(t *testing.T) {
	ts := newTestServer(t)
	approved := func() FinalizeRequest {
		return FinalizeRequest{
			PatientID: "P1", TreatmentName: "Angioplasty", ProviderNPI: "1234567890",
			ICD10Code: "I25.10", ProofID: submitLabProof(t, ts),
		}
	}

	t.Run("json result", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", approved()))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode[map[string]any](t, w)
		assert.Equal(t, "APPROVED", body["final_decision"])
		assert.NotEmpty(t, body["proof_id"])
		assert.Contains(t, body["report_text"], "Final Decision: APPROVED")
	})

	t.Run("pending proof denies", func(t *testing.T) {
		req := approved()
		req.ProofID = ""
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", req))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "DENIED", decode[map[string]any](t, w)["final_decision"])
	})

	t.Run("pdf download", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize?format=pdf", approved()))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
		assert.Equal(t, "APPROVED", w.Header().Get("X-Final-Decision"))
		assert.NotEmpty(t, w.Header().Get("X-Audit-Entry-ID"))
		assert.Contains(t, w.Header().Get("Content-Disposition"), "prior_auth_P1.pdf")
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))
	})

	t.Run("client supplied proof status is rejected", func(t *testing.T) {
		req := FinalizeRequest{
			PatientID: "P1", TreatmentName: "Angioplasty", ProviderNPI: "1234567890",
			ICD10Code: "S72.0", ProofStatus: "APPROVED",
		}
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", req))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.ErrValidation, decode[domain.APIError](t, w).Code)
	})

	t.Run("unknown proof id", func(t *testing.T) {
		req := approved()
		req.ProofID = "APPROVED"
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", req))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("proof id is single use", func(t *testing.T) {
		req := approved()
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", req))
		require.Equal(t, http.StatusOK, w.Code)
		w = ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize", req))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad format", func(t *testing.T) {
		w := ts.do(jsonRequest(t, http.MethodPost, "/api/v1/prior-auth/finalize?format=docx", approved()))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	count, err := ts.audit.Count(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func TestAuditListAndExport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for _, e := range []*domain.AuditEntry{
		{PatientID: "P1", ProviderNPI: "1234567890", RuleStatus: "APPROVED", ProofStatus: "APPROVED", FinalDecision: "APPROVED"},
		{PatientID: "P2", ProviderNPI: "1234567890", RuleStatus: "DENIED", ProofStatus: "PENDING", FinalDecision: "DENIED"},
		{PatientID: "p12", ProviderNPI: "9999999999", RuleStatus: "APPROVED", ProofStatus: "DENIED", FinalDecision: "DENIED"},
	} {
		require.NoError(t, ts.audit.Record(ctx, e))
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit?final_decision=denied&limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[AuditListResponse](t, w)
	assert.Equal(t, int64(2), page.Total)
	assert.Len(t, page.Entries, 1)
	assert.Equal(t, 1, page.Limit)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit?patient_id=P1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), decode[AuditListResponse](t, w).Total)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit?final_decision=MAYBE", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?provider_npi=999", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "p12")

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?format=json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, decode[audit.Export](t, w).Count)

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?format=xlsx", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = ts.do(httptest.NewRequest(http.MethodGet, "/api/v1/audit/export?format=xml", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(httptest.NewRequest(http.MethodOptions, "/api/v1/prior-auth/evaluate", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
