// Package logger builds the process-wide *slog.Logger from the server
// configuration and carries request-scoped loggers through a context.
//
// Output is JSON on stdout. NewTestLogger captures entries in memory so
// tests can assert on what was logged.
package logger
