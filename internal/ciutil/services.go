package ciutil

import (
	"log/slog"
	"testing"
)

// GetTestDatabaseURL returns the PostgreSQL URL for integration tests, or
// "" when none is configured. The preferred variable is
// OPENVOICE_TEST_DATABASE_URL; DATABASE_URL and OPENVOICE_DATABASE_URL
// are accepted as fallbacks.
func GetTestDatabaseURL(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvOpenVoiceTestDB, EnvDatabaseURL, EnvOpenVoiceDatabase}, "", logger)
}

// GetTestRedisAddr returns the Redis address for integration tests, or ""
// when none is configured.
func GetTestRedisAddr(logger *slog.Logger) string {
	return GetEnvWithFallbacks([]string{EnvOpenVoiceTestRedis, EnvRedisAddr, EnvOpenVoiceRedis}, "", logger)
}

// RequireService returns value when it is set. Otherwise the test is
// skipped, or failed when running under CI.
func RequireService(t testing.TB, name, value string) string {
	t.Helper()
	if value != "" {
		return value
	}
	if IsCI() {
		t.Fatalf("%s is not configured in CI environment", name)
	}
	t.Skipf("%s not configured, skipping integration test", name)
	return ""
}
