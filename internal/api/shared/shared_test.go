package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/openvoice/internal/domain"
	"github.com/phrazzld/openvoice/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	generated := GetTraceID(SetTraceID(ctx, ""))
	assert.Len(t, generated, 32)
	assert.NotEqual(t, generated, GetTraceID(SetTraceID(ctx, "")))

	assert.Equal(t, "req-1", GetTraceID(SetTraceID(ctx, "req-1")))

	// Wrong value type reads as missing.
	assert.Empty(t, GetTraceID(context.WithValue(ctx, TraceIDKey, 123)))
}

func TestOptionalInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    *int
		wantErr bool
	}{
		{"", nil, false},
		{"  ", nil, false},
		{"7", ptr(7), false},
		{"7.0", ptr(7), false},
		{"-1", ptr(-1), false},
		{"7.5", nil, true},
		{"seven", nil, true},
	}

	for _, tc := range tests {
		got, err := OptionalInt(tc.raw, "strength")
		if tc.wantErr {
			require.Error(t, err, tc.raw)
			assert.ErrorIs(t, err, domain.ErrInvalidFormat)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestQueryDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query   string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"?wait=", 0, false},
		{"?wait=15", 15 * time.Second, false},
		{"?wait=0.5", 500 * time.Millisecond, false},
		{"?wait=1m30s", 90 * time.Second, false},
		{"?wait=-3", 0, true},
		{"?wait=-1s", 0, true},
		{"?wait=soon", 0, true},
	}

	for _, tc := range tests {
		r := httptest.NewRequest(http.MethodGet, "/jobs/x"+tc.query, nil)
		got, err := QueryDuration(r, "wait")
		if tc.wantErr {
			assert.Error(t, err, tc.query)
			continue
		}
		require.NoError(t, err, tc.query)
		assert.Equal(t, tc.want, got, tc.query)
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/queue", nil)
	w := httptest.NewRecorder()

	RespondWithJSON(w, r, http.StatusCreated, map[string]int{"active": 1})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"active":1}`, w.Body.String())
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()
	ctx := logger.WithLogger(SetTraceID(context.Background(), "trace-abc"), log)
	r := httptest.NewRequest(http.MethodGet, "/jobs/1", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to get job status",
		errors.New("open /srv/openvoice/uploads/secret.wav: permission denied"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Failed to get job status", body.Error)
	assert.Equal(t, "trace-abc", body.TraceID)
	assert.NotContains(t, w.Body.String(), "secret.wav")

	require.True(t, buf.HasMessage("API error response"))
	entry := buf.Entries()[0]
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "trace-abc", entry["trace_id"])
	assert.NotContains(t, entry["error"], "/srv/openvoice")
}

func ptr(v int) *int {
	return &v
}
