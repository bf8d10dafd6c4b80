package testutil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Envelope is the JSON shape every provenance-stub response uses.
type Envelope struct {
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// AssertEnvelope checks the status and that the body request_id matches the
// X-Request-ID response header.
func AssertEnvelope(t *testing.T, rec *httptest.ResponseRecorder, status int) Envelope {
	t.Helper()

	assert.Equal(t, status, rec.Code, "status mismatch: %s", rec.Body.String())

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body is not JSON: %s", rec.Body.String())

	header := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, header, "X-Request-ID header missing")
	assert.Equal(t, header, env.RequestID, "body request_id does not match header")

	return env
}

func DecodeData(t *testing.T, env Envelope, out any) {
	t.Helper()

	require.NoError(t, json.Unmarshal(env.Data, out))
}
