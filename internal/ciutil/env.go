package ciutil

import (
	"log/slog"
	"net/url"
	"os"
)

// Common environment variable names used across the codebase.
const (
	// CI environment detection variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// Database connection environment variables
	EnvDatabaseURL       = "DATABASE_URL"
	EnvOpenVoiceTestDB   = "OPENVOICE_TEST_DATABASE_URL" // Preferred name
	EnvOpenVoiceDatabase = "OPENVOICE_DATABASE_URL"

	// Redis environment variables
	EnvRedisAddr          = "REDIS_ADDR"
	EnvOpenVoiceTestRedis = "OPENVOICE_TEST_REDIS_ADDR" // Preferred name
	EnvOpenVoiceRedis     = "OPENVOICE_QUEUE_REDIS_ADDR"
)

// IsCI returns true if the current environment is a CI environment.
// It checks for common CI environment variables across different CI providers.
func IsCI() bool {
	return os.Getenv(EnvCI) != "" ||
		os.Getenv(EnvGitHubActions) != "" ||
		os.Getenv(EnvGitLabCI) != "" ||
		os.Getenv(EnvJenkinsURL) != "" ||
		os.Getenv(EnvCircleCI) != ""
}

// GetEnvWithFallbacks returns the value of the first non-empty environment variable
// from the provided list. If no environment variables are set, it returns the defaultValue.
// Using any name but the first is logged as a warning when logger is set.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		if val := os.Getenv(envVar); val != "" {
			if i > 0 && logger != nil {
				logger.Warn("using fallback environment variable",
					"used_var", envVar,
					"preferred_var", envVars[0],
					"value", MaskSensitiveValue(val))
			}
			return val
		}
	}
	return defaultValue
}

// MaskSensitiveValue hides the password of connection URLs so they can
// be logged. Other values are returned unchanged.
func MaskSensitiveValue(value string) string {
	u, err := url.Parse(value)
	if err != nil || u.User == nil {
		return value
	}
	if _, hasPassword := u.User.Password(); !hasPassword {
		return value
	}
	u.User = url.UserPassword(u.User.Username(), "****")
	return u.String()
}
