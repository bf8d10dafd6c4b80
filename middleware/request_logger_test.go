package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/testutil"
)

func TestRequestLogger_LogsStatusAndRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	e := testutil.NewEcho()
	e.Use(middleware.RequestID(nil))
	e.Use(middleware.RequestLogger(zerolog.New(&buf), func(*echo.Context) map[string]any {
		return map[string]any{"component": "stub"}
	}))
	e.GET("/ok", func(c *echo.Context) error { return c.String(http.StatusOK, "fine") })
	e.GET("/missing", func(*echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "nope") })

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(middleware.HeaderXRequestID, "log-1")
	testutil.Serve(e, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "log-1", entry["request_id"])
	assert.InDelta(t, http.StatusOK, entry["status"], 0)
	assert.Equal(t, "stub", entry["component"])

	buf.Reset()
	testutil.Serve(e, httptest.NewRequest(http.MethodGet, "/missing", nil))

	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.InDelta(t, http.StatusNotFound, entry["status"], 0)
}
