package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ErrorKind tags a JobError. The set is closed: anything else fails decoding.
type ErrorKind string

// Possible error kinds for a failed job
const (
	// ErrorKindTransform means the enhancer reported a failure or panicked.
	ErrorKindTransform ErrorKind = "TransformError"

	// ErrorKindTimeout means processing exceeded the configured bound or the
	// job was abandoned by the stuck job monitor.
	ErrorKindTimeout ErrorKind = "Timeout"

	// ErrorKindInfrastructure means storage or queue failures prevented
	// processing, including a worker lost during a restart.
	ErrorKindInfrastructure ErrorKind = "InfrastructureError"

	// ErrorKindResourceExhausted means the worker ran out of memory or disk.
	ErrorKindResourceExhausted ErrorKind = "ResourceExhausted"
)

// MaxJobErrorMessageLen bounds the stored message length in bytes.
const MaxJobErrorMessageLen = 512

// JobError is the only failure representation that crosses the worker/store
// boundary. It is a plain value: never a wrapped Go error.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewJobError builds a JobError, truncating long messages on a rune boundary.
func NewJobError(kind ErrorKind, message string) JobError {
	if len(message) > MaxJobErrorMessageLen {
		cut := MaxJobErrorMessageLen
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut]
	}
	return JobError{Kind: kind, Message: message}
}

// Validate checks that the kind is one of the known kinds.
func (e JobError) Validate() error {
	if !IsKnownErrorKind(e.Kind) {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidJobError, e.Kind)
	}
	return nil
}

// String renders the error for operator logs.
func (e JobError) String() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// IsKnownErrorKind reports whether kind belongs to the closed set.
func IsKnownErrorKind(kind ErrorKind) bool {
	switch kind {
	case ErrorKindTransform, ErrorKindTimeout, ErrorKindInfrastructure, ErrorKindResourceExhausted:
		return true
	default:
		return false
	}
}

// EncodeJobError serializes e for storage. Invalid values are rejected
// here so nothing undecodable is ever written.
func EncodeJobError(e JobError) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// wireJobError detects missing fields, which json.Unmarshal would otherwise
// silently zero.
type wireJobError struct {
	Kind    *string `json:"kind"`
	Message *string `json:"message"`
}

// DecodeJobError parses a stored error payload. Both fields must be present
// and the kind must be known; trailing data is rejected.
func DecodeJobError(data []byte) (JobError, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return JobError{}, fmt.Errorf("%w: empty payload", ErrInvalidJobError)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	var wire wireJobError
	if err := dec.Decode(&wire); err != nil {
		return JobError{}, fmt.Errorf("%w: %v", ErrInvalidJobError, err)
	}
	if dec.More() {
		return JobError{}, fmt.Errorf("%w: trailing data", ErrInvalidJobError)
	}
	if wire.Kind == nil || wire.Message == nil {
		return JobError{}, fmt.Errorf("%w: missing kind or message", ErrInvalidJobError)
	}

	e := JobError{Kind: ErrorKind(*wire.Kind), Message: *wire.Message}
	if err := e.Validate(); err != nil {
		return JobError{}, err
	}
	return e, nil
}
