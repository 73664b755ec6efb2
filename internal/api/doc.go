// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It acts as an adapter between HTTP clients and
// the job service, translating HTTP concerns to job operations and
// service errors to status codes without leaking internal detail.
package api
