package shared

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/openvoice/internal/domain"
)

// Global validator instance for reuse
var validate = validator.New()

// ValidateRequest validates the given struct using the validator package.
func ValidateRequest(v any) error {
	// Check if the object implements the Validate interface
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}

	// Otherwise, use the struct validator
	return validate.Struct(v)
}

// OptionalInt parses an integer form or query value. A missing or blank
// value returns nil.
func OptionalInt(raw, field string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		// Accept "7.0" from sliders that post floats.
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != float64(int(f)) {
			return nil, domain.NewValidationError(field, "must be an integer", domain.ErrInvalidFormat)
		}
		v = int(f)
	}
	return &v, nil
}

// QueryDuration reads a duration query parameter. Plain numbers are
// seconds; Go duration strings such as "1m30s" are also accepted. A
// missing parameter returns 0.
func QueryDuration(r *http.Request, name string) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		if secs < 0 {
			return 0, domain.NewValidationError(name, "must not be negative", domain.ErrInvalidFormat)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, domain.NewValidationError(name, "must be a non-negative duration", domain.ErrInvalidFormat)
	}
	return d, nil
}
