package domain

import "math"

// Strength bounds accepted from clients.
const (
	MinStrength = 0
	MaxStrength = 10
)

// EnhanceParams are the transform-specific parameters derived from the
// client-facing strength value.
type EnhanceParams struct {
	// Strength is the client value 0..10; nil means "use server defaults".
	Strength *int `json:"strength,omitempty"`

	// AttenuationLimitDB caps noise suppression. Negative disables the limit.
	AttenuationLimitDB float64 `json:"attenuation_limit_db"`

	// OutputGainDB is applied after enhancement.
	OutputGainDB float64 `json:"output_gain_db"`
}

// ParamsForStrength maps a strength slider value onto transform parameters:
// attenuation limit 6..26 dB, and a gentle voice lift that tapers as
// suppression increases.
func ParamsForStrength(strength int) (EnhanceParams, error) {
	if strength < MinStrength || strength > MaxStrength {
		return EnhanceParams{}, NewValidationError("strength", "must be between 0 and 10", ErrInvalidStrength)
	}

	s := float64(strength)
	gain := math.Max(0, math.Round((2.0-s*0.1)*100)/100)

	return EnhanceParams{
		Strength:           &strength,
		AttenuationLimitDB: 6 + s*2,
		OutputGainDB:       gain,
	}, nil
}

// DefaultParams returns the parameters used when the client sends no strength.
func DefaultParams(attenuationLimitDB, outputGainDB float64) EnhanceParams {
	return EnhanceParams{
		AttenuationLimitDB: attenuationLimitDB,
		OutputGainDB:       outputGainDB,
	}
}
