package domain

import (
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
			message:   "Invalid feature vector",
			details:   "features must be a JSON object of numbers",
			requestID: "req-123",
		},
		{
			name:      "Configuration error",
			code:      ErrConfiguration,
			message:   "Completion provider not configured",
			details:   "OPENAI_API_KEY is not set",
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
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}

			expectedError := tt.code + ": " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name:     "Top-level field",
			err:      NewValidationError("top_features", "must be a non-empty list"),
			expected: "validation error for field 'top_features': must be a non-empty list",
		},
		{
			name:     "Feature field",
			err:      NewFeatureValidationError(2, "shap", "missing 'shap'"),
			expected: "validation error for field 'top_features[2].shap': missing 'shap'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error string %s, got %s", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestRetrievalErrorUnwrap(t *testing.T) {
	cause := errors.New("index missing")
	err := fmt.Errorf("grounding: %w", &RetrievalError{IndexDir: "/tmp/idx", Err: cause})

	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("Expected RetrievalError in chain")
	}
	if re.IndexDir != "/tmp/idx" {
		t.Errorf("Expected index dir /tmp/idx, got %s", re.IndexDir)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Expected cause to be reachable through Unwrap")
	}
}

func TestErrorConstants(t *testing.T) {
	constants := map[string]string{
		"ErrInvalidInput":   ErrInvalidInput,
		"ErrValidation":     ErrValidation,
		"ErrConfiguration":  ErrConfiguration,
		"ErrExternalAPI":    ErrExternalAPI,
		"ErrNotFound":       ErrNotFound,
		"ErrInternalServer": ErrInternalServer,
	}

	expectedValues := map[string]string{
		"ErrInvalidInput":   "INVALID_INPUT",
		"ErrValidation":     "VALIDATION_ERROR",
		"ErrConfiguration":  "CONFIGURATION_ERROR",
		"ErrExternalAPI":    "EXTERNAL_API_ERROR",
		"ErrNotFound":       "NOT_FOUND",
		"ErrInternalServer": "INTERNAL_SERVER_ERROR",
	}

	for name, actual := range constants {
		expected := expectedValues[name]
		if actual != expected {
			t.Errorf("Expected %s to be %s, got %s", name, expected, actual)
		}
	}
}
