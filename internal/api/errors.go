package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/openvoice/internal/api/shared"
	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/enhance"
	"github.com/phrazzld/openvoice/internal/service"
)

// retryAfterSeconds is sent with 503 responses.
const retryAfterSeconds = "30"

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var validationErr *domain.ValidationError
	var maxBytesErr *http.MaxBytesError

	switch {
	// Upload size errors
	case errors.Is(err, enhance.ErrFileTooLarge),
		errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge

	// Upload content errors
	case errors.Is(err, enhance.ErrNotAudio):
		return http.StatusUnsupportedMediaType

	// Bad request errors
	case errors.As(err, &validationErr),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrInvalidFormat):
		return http.StatusBadRequest

	// Not found errors
	case errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrJobExpired):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrJobNotCompleted):
		return http.StatusConflict

	// Back-pressure and shutdown
	case errors.Is(err, service.ErrServiceBusy),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	// Handle nil error
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErr *domain.ValidationError
	var maxBytesErr *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesErr):
		return "Upload exceeds the maximum size"

	// Validation messages are written by this service and safe to echo.
	case errors.As(err, &validationErr):
		return capitalize(validationErr.Error())

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid job ID"

	case errors.Is(err, service.ErrJobNotFound):
		return "Job not found"

	case errors.Is(err, service.ErrJobExpired):
		return "Job not found or expired"

	case errors.Is(err, service.ErrJobNotCompleted):
		return "Job has not completed"

	case errors.Is(err, service.ErrServiceBusy):
		return "Server is busy, try again later"

	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return "Request was not completed in time"

	// Default case for unknown errors
	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the mapped status and safe message for err and
// logs the redacted detail. fallback replaces the generic 500 message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validator errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		// Fall back to a generic validation error message
		return "Validation error"
	}

	fe := fieldErrs[0]
	return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag(), fe.Param()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag, param string) string {
	switch tag {
	case "required":
		return "required field"
	case "min", "gte":
		return "must be at least " + param
	case "max", "lte":
		return "must be at most " + param
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
