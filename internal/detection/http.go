// Package detection talks to the fracture-detection model server.
package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// HTTPDetector runs inference against a JSON model-serving endpoint.
type HTTPDetector struct {
	endpoint   string
	modelName  string
	modelPath  string
	httpClient *http.Client
	logger     *logrus.Logger
}

// HTTPDetectorConfig represents configuration for the HTTP detector
type HTTPDetectorConfig struct {
	Endpoint  string
	ModelName string
	ModelPath string
	Timeout   time.Duration
}

type predictRequest struct {
	Model     string        `json:"model,omitempty"`
	ModelPath string        `json:"model_path,omitempty"`
	Inputs    domain.Tensor `json:"inputs"`
}

// predictResponse carries one prediction matrix per batch element.
type predictResponse struct {
	Outputs [][][]float32 `json:"outputs"`
	Error   string        `json:"error,omitempty"`
}

// NewHTTPDetector creates a new HTTP detector
func NewHTTPDetector(config HTTPDetectorConfig, logger *logrus.Logger) *HTTPDetector {
	if config.Timeout == 0 {
		config.Timeout = 20 * time.Second
	}
	return &HTTPDetector{
		endpoint:  config.Endpoint,
		modelName: config.ModelName,
		modelPath: config.ModelPath,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// Detect posts the tensor and returns the prediction rows of the first batch element.
func (d *HTTPDetector) Detect(ctx context.Context, input domain.Tensor) ([][]float32, error) {
	if input.Len() != len(input.Data) {
		return nil, &domain.InferenceError{
			Op:  "encode",
			Err: fmt.Errorf("tensor shape %v implies %d values, got %d", input.Shape, input.Len(), len(input.Data)),
		}
	}

	body, err := json.Marshal(predictRequest{Model: d.modelName, ModelPath: d.modelPath, Inputs: input})
	if err != nil {
		return nil, &domain.InferenceError{Op: "encode", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &domain.InferenceError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		d.logger.WithFields(logrus.Fields{
			"status":    resp.StatusCode,
			"transient": transient,
		}).Warn("Detection endpoint returned an error status")
		return nil, &domain.InferenceError{
			Op:        "predict",
			Err:       fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(payload, 200)),
			Transient: transient,
		}
	}

	var decoded predictResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &domain.InferenceError{Op: "decode", Err: err}
	}
	if decoded.Error != "" {
		return nil, &domain.InferenceError{Op: "predict", Err: errors.New(decoded.Error)}
	}
	if len(decoded.Outputs) == 0 {
		return nil, &domain.InferenceError{Op: "decode", Err: errors.New("response has no outputs")}
	}

	d.logger.WithFields(logrus.Fields{
		"rows":     len(decoded.Outputs[0]),
		"duration": time.Since(start),
	}).Debug("Detection completed")

	return decoded.Outputs[0], nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &domain.InferenceError{Op: "predict", Err: ctxErr, Timeout: errors.Is(ctxErr, context.DeadlineExceeded)}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.InferenceError{Op: "predict", Err: err, Timeout: true}
	}
	return &domain.InferenceError{Op: "predict", Err: err, Transient: true}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
