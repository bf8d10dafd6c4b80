package auditlog_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/auditlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observe(t *testing.T, record auditfetch.CallRecord, opts ...auditlog.Option) map[string]any {
	t.Helper()

	var buf bytes.Buffer

	opts = append([]auditlog.Option{auditlog.WithLogger(zerolog.New(&buf))}, opts...)
	auditlog.New(opts...).ObserveCall(t.Context(), record)

	if buf.Len() == 0 {
		return nil
	}

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	return entry
}

func TestObserver_LogsSuccessfulCall(t *testing.T) {
	t.Parallel()

	entry := observe(t, auditfetch.CallRecord{
		RequestID:         "rid-1",
		ResponseRequestID: "rid-1",
		Method:            "GET",
		URL:               "https://api.reconai.test/v1/things",
		Status:            200,
		Outcome:           auditfetch.OutcomeOK,
		StartedAt:         time.Now(),
		Duration:          15 * time.Millisecond,
	})

	require.NotNil(t, entry)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "audit", entry["log_type"])
	assert.Equal(t, "rid-1", entry["request_id"])
	assert.Equal(t, true, entry["echoed"])
	assert.InDelta(t, 200, entry["status"], 0)
	assert.Equal(t, "Audited call completed", entry["message"])
	assert.NotContains(t, entry, "error")
}

func TestObserver_LevelsByOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome auditfetch.Outcome
		level   string
	}{
		{auditfetch.OutcomeHTTPError, "warn"},
		{auditfetch.OutcomeRateLimited, "warn"},
		{auditfetch.OutcomeInvalidRequest, "warn"},
		{auditfetch.OutcomeProvenanceViolation, "error"},
		{auditfetch.OutcomeTransportError, "error"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			t.Parallel()

			entry := observe(t, auditfetch.CallRecord{
				RequestID: "rid",
				Method:    "POST",
				URL:       "/api/x",
				Outcome:   tt.outcome,
				Error:     "boom",
			})

			require.NotNil(t, entry)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "boom", entry["error"])
			assert.NotContains(t, entry, "status")
		})
	}
}

func TestObserver_SuccessLevelIsConfigurable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)
	observer := auditlog.New(auditlog.WithLogger(logger), auditlog.WithSuccessLevel(zerolog.DebugLevel))

	observer.ObserveCall(t.Context(), auditfetch.CallRecord{Outcome: auditfetch.OutcomeOK})

	assert.Zero(t, buf.Len())
}

func TestObserver_FlagsMismatchedEcho(t *testing.T) {
	t.Parallel()

	entry := observe(t, auditfetch.CallRecord{
		RequestID:         "sent",
		ResponseRequestID: "other",
		Outcome:           auditfetch.OutcomeOK,
	})

	assert.Equal(t, false, entry["echoed"])
	assert.Equal(t, "other", entry["response_request_id"])
}
