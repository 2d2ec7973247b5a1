package domain

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrDatabaseError  = "DATABASE_ERROR"
	ErrInferenceError = "INFERENCE_ERROR"
	ErrEvaluation     = "EVALUATION_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
	ErrValidation     = "VALIDATION_ERROR"
	ErrExtraction     = "EXTRACTION_ERROR"
	ErrNotFoundCode   = "NOT_FOUND"
)

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ParseError reports malformed identifier input that cannot be defaulted.
// Lenient numeric and date parsing never produces one; only identifiers that must be
// queried exactly (the provider NPI) do.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error for %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("parse error for %s %q", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RangeError reports a detection class id outside the configured class table. It signals a
// model/config mismatch, not a business-rule failure.
type RangeError struct {
	ClassID    int
	NumClasses int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("detection class id %d out of range [0,%d)", e.ClassID, e.NumClasses)
}

// InferenceError wraps failures of the detection backend.
type InferenceError struct {
	Op        string
	Err       error
	Timeout   bool
	Transient bool
}

func (e *InferenceError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("inference %s timed out: %v", e.Op, e.Err)
	case e.Transient:
		return fmt.Sprintf("inference %s failed (transient): %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("inference %s failed: %v", e.Op, e.Err)
	}
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsTransientInference reports whether err is an inference failure worth retrying.
func IsTransientInference(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie) && ie.Transient && !ie.Timeout
}

// ExtractionError reports a document whose text could not be read.
type ExtractionError struct {
	Document string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to read %s: %v", e.Document, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
