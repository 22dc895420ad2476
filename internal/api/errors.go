package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ctgenie-cds-server/internal/domain"
	"github.com/ctgenie-cds-server/internal/middleware"
)

// toAPIError maps a service error to an HTTP status and APIError body.
func toAPIError(err error, requestID string) (int, *domain.APIError) {
	var (
		validation *domain.ValidationError
		config     *domain.ConfigurationError
		provider   *domain.ProviderError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, domain.NewAPIError(domain.ErrValidation, "Validation failed", validation.Error(), requestID)
	case errors.As(err, &config):
		return http.StatusServiceUnavailable, domain.NewAPIError(domain.ErrConfiguration, "Completion provider not configured", config.Error(), requestID)
	case errors.As(err, &provider):
		if provider.StatusCode == http.StatusTooManyRequests {
			return http.StatusTooManyRequests, domain.NewAPIError(domain.ErrCodeRateLimited, "Completion provider rate limit exceeded", provider.Error(), requestID)
		}
		return http.StatusBadGateway, domain.NewAPIError(domain.ErrExternalAPI, "Completion provider request failed", provider.Error(), requestID)
	case errors.Is(err, domain.ErrLengthMismatch), errors.Is(err, domain.ErrInvalidPatternCategory):
		return http.StatusBadRequest, domain.NewAPIError(domain.ErrInvalidInput, "Invalid input", err.Error(), requestID)
	case errors.Is(err, domain.ErrAttributionUnavailable):
		return http.StatusUnprocessableEntity, domain.NewAPIError(domain.ErrInvalidInput, "Attribution unavailable", err.Error(), requestID)
	case errors.Is(err, domain.ErrNotFoundInReference):
		return http.StatusNotFound, domain.NewAPIError(domain.ErrNotFound, "Not found", err.Error(), requestID)
	case errors.Is(err, domain.ErrGuidelinesNotLoaded):
		return http.StatusServiceUnavailable, domain.NewAPIError(domain.ErrUnavailable, "Guidelines not loaded", err.Error(), requestID)
	default:
		return http.StatusInternalServerError, domain.NewAPIError(domain.ErrInternalServer, "Internal server error", err.Error(), requestID)
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	requestID := c.GetString(middleware.RequestIDKey)
	status, apiErr := toAPIError(err, requestID)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", requestID).Error("Request handling failed")
	}
	c.AbortWithStatusJSON(status, apiErr)
}

func (s *Server) badRequest(c *gin.Context, message string, err error) {
	requestID := c.GetString(middleware.RequestIDKey)
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.NewAPIError(domain.ErrInvalidInput, message, err.Error(), requestID))
}
