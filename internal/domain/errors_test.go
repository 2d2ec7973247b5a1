package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		message   string
		details   string
		requestID string
	}{
		{
			name:      "Basic error",
			code:      ErrInvalidInput,
			message:   "Invalid provider NPI",
			details:   "Provider NPI must be a 10-digit number",
			requestID: "req-123",
		},
		{
			name:      "Database error",
			code:      ErrDatabaseError,
			message:   "Database connection failed",
			details:   "Unable to open lookup tables",
			requestID: "req-456",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewAPIError(tt.code, tt.message, tt.details, tt.requestID)

			if err.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, err.Code)
			}

			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}

			if err.Details != tt.details {
				t.Errorf("Expected details %s, got %s", tt.details, err.Details)
			}

			if err.RequestID != tt.requestID {
				t.Errorf("Expected requestID %s, got %s", tt.requestID, err.RequestID)
			}

			// Check that timestamp is recent (within last minute)
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			// Test Error() method
			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "String validation error",
			field:   "provider_npi",
			message: "Invalid format",
			value:   "12AB",
		},
		{
			name:    "Integer validation error",
			field:   "image_size",
			message: "Must be positive",
			value:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			if err.Message != tt.message {
				t.Errorf("Expected message %s, got %s", tt.message, err.Message)
			}

			if err.Value != tt.value {
				t.Errorf("Expected value %v, got %v", tt.value, err.Value)
			}

			// Test Error() method
			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestParseError(t *testing.T) {
	inner := errors.New("invalid syntax")
	err := &ParseError{Field: "provider_npi", Value: "12AB", Err: inner}

	if !errors.Is(err, inner) {
		t.Errorf("Expected ParseError to unwrap to the inner error")
	}
	expected := `parse error for provider_npi "12AB": invalid syntax`
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}

	bare := &ParseError{Field: "provider_npi", Value: ""}
	if bare.Error() != `parse error for provider_npi ""` {
		t.Errorf("Unexpected error string %s", bare.Error())
	}
}

func TestRangeError(t *testing.T) {
	err := &RangeError{ClassID: 7, NumClasses: 4}
	expected := "detection class id 7 out of range [0,4)"
	if err.Error() != expected {
		t.Errorf("Expected error string %s, got %s", expected, err.Error())
	}
}

func TestIsTransientInference(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"transient", &InferenceError{Op: "detect", Err: errors.New("503"), Transient: true}, true},
		{"wrapped transient", fmt.Errorf("call: %w", &InferenceError{Op: "detect", Err: errors.New("503"), Transient: true}), true},
		{"timeout is not retried", &InferenceError{Op: "detect", Err: context.DeadlineExceeded, Timeout: true, Transient: true}, false},
		{"structural", &InferenceError{Op: "decode", Err: errors.New("bad shape")}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientInference(tt.err); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestErrorConstants(t *testing.T) {
	constants := map[string]string{
		"ErrInvalidInput":   ErrInvalidInput,
		"ErrDatabaseError":  ErrDatabaseError,
		"ErrInferenceError": ErrInferenceError,
		"ErrEvaluation":     ErrEvaluation,
		"ErrRateLimit":      ErrRateLimit,
		"ErrInternalServer": ErrInternalServer,
		"ErrValidation":     ErrValidation,
		"ErrExtraction":     ErrExtraction,
	}

	expectedValues := map[string]string{
		"ErrInvalidInput":   "INVALID_INPUT",
		"ErrDatabaseError":  "DATABASE_ERROR",
		"ErrInferenceError": "INFERENCE_ERROR",
		"ErrEvaluation":     "EVALUATION_ERROR",
		"ErrRateLimit":      "RATE_LIMIT_EXCEEDED",
		"ErrInternalServer": "INTERNAL_SERVER_ERROR",
		"ErrValidation":     "VALIDATION_ERROR",
		"ErrExtraction":     "EXTRACTION_ERROR",
	}

	for name, actual := range constants {
		expected := expectedValues[name]
		if actual != expected {
			t.Errorf("Expected %s to be %s, got %s", name, expected, actual)
		}
	}
}
