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
	ErrInvalidInput    = "INVALID_INPUT"
	ErrValidation      = "VALIDATION_ERROR"
	ErrConfiguration   = "CONFIGURATION_ERROR"
	ErrExternalAPI     = "EXTERNAL_API_ERROR"
	ErrNotFound        = "NOT_FOUND"
	ErrUnavailable     = "SERVICE_UNAVAILABLE"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
	ErrClassification  = "CLASSIFICATION_ERROR"
	ErrCodeRateLimited = "RATE_LIMIT_EXCEEDED"
)

var (
	// ErrAttributionUnavailable signals a classifier that cannot produce per-feature attribution.
	ErrAttributionUnavailable = errors.New("feature attribution unavailable")
	// ErrClassifierUnavailable signals that no trained model is loaded.
	ErrClassifierUnavailable = errors.New("classifier not loaded")
	// ErrLengthMismatch signals attribution, name and value arrays of different lengths.
	ErrLengthMismatch = errors.New("attributions, names and values must have the same length")
	// ErrGuidelinesNotLoaded signals an empty guideline table.
	ErrGuidelinesNotLoaded = errors.New("clinical guidelines not loaded")
	// ErrNotFoundInReference signals a lookup with no matching reference entry.
	ErrNotFoundInReference = errors.New("no matching reference entry")
	// ErrInvalidPatternCategory signals an unknown tracing category.
	ErrInvalidPatternCategory = errors.New("invalid pattern category")
)

// ValidationError names the first missing or invalid evidence field.
// Index is the feature position for per-feature fields and -1 otherwise.
type ValidationError struct {
	Field   string `json:"field"`
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("validation error for field 'top_features[%d].%s': %s", e.Index, e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a top-level field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Index: -1, Message: message}
}

// NewFeatureValidationError creates a ValidationError for a field of the feature at index
func NewFeatureValidationError(index int, field, message string) *ValidationError {
	return &ValidationError{Field: field, Index: index, Message: message}
}

// ConfigurationError signals a missing credential or invalid setting.
type ConfigurationError struct {
	Setting string `json:"setting"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for '%s': %s", e.Setting, e.Message)
}

// RetrievalError wraps a failure of the reference retrieval subsystem.
type RetrievalError struct {
	IndexDir string
	Err      error
}

// Error implements the error interface
func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval from %q failed: %v", e.IndexDir, e.Err)
}

// Unwrap returns the underlying cause
func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// ProviderError is a non-success response from the completion provider.
type ProviderError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider returned status %d: %s", e.StatusCode, e.Body)
}

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
