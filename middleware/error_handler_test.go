package middleware_test

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/testutil"
	"github.com/reconai/auditkit/validator"
)

var errDatabase = errors.New("database unavailable")

func failingServer(handlerErr error, config *middleware.ErrorHandlerConfig) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(nil, config)
	e.Use(middleware.RequestID(nil))
	e.GET("/fail", func(*echo.Context) error { return handlerErr })

	return e
}

func TestErrorHandler_HTTPErrorEnvelope(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(middleware.HeaderXRequestID, "req-42")

	rec := testutil.Serve(failingServer(echo.NewHTTPError(http.StatusNotFound, "thing not found"), nil), req)

	env := testutil.AssertEnvelope(t, rec, http.StatusNotFound)
	assert.Equal(t, "req-42", env.RequestID)
	assert.Equal(t, "thing not found", env.Message)
}

func TestErrorHandler_ValidationErrors(t *testing.T) {
	t.Parallel()

	verr := validator.ValidationErrors{{Field: "name", Tag: "required", Value: "", Message: "name is required"}}

	rec := testutil.Serve(failingServer(verr, nil), httptest.NewRequest(http.MethodGet, "/fail", nil))

	env := testutil.AssertEnvelope(t, rec, http.StatusBadRequest)
	assert.Equal(t, "request validation failed", env.Message)
	assert.Contains(t, rec.Body.String(), `"field":"name"`)
}

func TestErrorHandler_UnknownErrorIsInternal(t *testing.T) {
	t.Parallel()

	rec := testutil.Serve(failingServer(errDatabase, nil), httptest.NewRequest(http.MethodGet, "/fail", nil))

	env := testutil.AssertEnvelope(t, rec, http.StatusInternalServerError)
	assert.Equal(t, "Internal Server Error", env.Message)
	assert.NotContains(t, rec.Body.String(), "database unavailable")
}

func TestErrorHandler_IncludeInternalAndLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	logger := zerolog.New(&buf)
	config := &middleware.ErrorHandlerConfig{Logger: &logger, LogErrors: true, IncludeInternalErrors: true}

	rec := testutil.Serve(failingServer(errDatabase, config), httptest.NewRequest(http.MethodGet, "/fail", nil))

	testutil.AssertEnvelope(t, rec, http.StatusInternalServerError)
	assert.Contains(t, rec.Body.String(), `"internal":"database unavailable"`)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"path":"/fail"`)
}

func TestErrorHandler_DelegatesUnknownErrorsToNext(t *testing.T) {
	t.Parallel()

	var delegated error

	ctx, _ := testutil.NewEchoContext(t, testutil.EchoRequest{Method: http.MethodGet, Path: "/fail"}) //nolint:exhaustruct

	handler := middleware.ErrorHandler(func(_ *echo.Context, err error) { delegated = err })
	handler(ctx, errDatabase)

	require.ErrorIs(t, delegated, errDatabase)
}
