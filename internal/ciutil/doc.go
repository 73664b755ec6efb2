// Package ciutil provides utilities for CI and environment-specific functionality.
//
// It detects whether tests run under CI and locates the external services
// (PostgreSQL, Redis) that integration tests run against. Outside CI a
// missing service skips the test; under CI it fails it, so a misconfigured
// pipeline cannot pass by skipping everything.
package ciutil
