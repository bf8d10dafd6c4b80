package auditfetch_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditProvenanceError_MatchesSentinelThroughWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("loading ledger: %w", &auditfetch.AuditProvenanceError{
		Message:   "response is missing the X-Request-ID header",
		URL:       "https://backend.example.com/v1/ledger",
		RequestID: "req-1",
	})

	require.ErrorIs(t, err, auditfetch.ErrAuditProvenance)
	assert.NotErrorIs(t, err, auditfetch.ErrHTTPStatus)
	assert.Equal(t, "req-1", auditfetch.RequestIDOf(err))
}

func TestHTTPError_Helpers(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &auditfetch.HTTPError{
		Status:    401,
		Message:   "token expired",
		Body:      map[string]any{"error": "expired", "code": 7},
		RequestID: "req-2",
	})

	require.ErrorIs(t, err, auditfetch.ErrHTTPStatus)
	assert.True(t, auditfetch.IsUnauthorized(err))
	assert.Equal(t, "req-2", auditfetch.RequestIDOf(err))

	httpErr, ok := auditfetch.AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, "expired", httpErr.Field("error"))
	assert.Empty(t, httpErr.Field("code"))
	assert.Empty(t, httpErr.Field("missing"))
}

func TestRequestIDOf_UnknownError(t *testing.T) {
	t.Parallel()

	assert.Empty(t, auditfetch.RequestIDOf(errors.New("plain")))
	assert.False(t, auditfetch.IsUnauthorized(nil))
}
