package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/validator"
)

// EchoRequest describes a request for NewEchoContext. RequestID, when set, is
// sent as X-Request-ID.
type EchoRequest struct {
	Method     string
	Path       string
	Body       any
	Headers    map[string]string
	Query      map[string]string
	PathParams map[string]string
	RequestID  string
}

// NewEcho returns an echo instance configured like the provenance backend.
func NewEcho() *echo.Echo {
	e := echo.New()
	e.Validator = validator.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(nil)

	return e
}

// NewEchoContext builds a context for calling a handler or middleware
// directly. A non-[]byte Body is JSON encoded.
func NewEchoContext(t *testing.T, r EchoRequest) (*echo.Context, *httptest.ResponseRecorder) {
	t.Helper()

	target := r.Path
	if len(r.Query) > 0 {
		query := url.Values{}
		for key, value := range r.Query {
			query.Set(key, value)
		}

		target += "?" + query.Encode()
	}

	var body []byte

	switch b := r.Body.(type) {
	case nil:
	case []byte:
		body = b
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)

		body = encoded
	}

	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	if r.RequestID != "" {
		req.Header.Set(middleware.HeaderXRequestID, r.RequestID)
	}

	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	ctx := NewEcho().NewContext(req, rec)

	if len(r.PathParams) > 0 {
		values := make([]echo.PathValue, 0, len(r.PathParams))
		for name, value := range r.PathParams {
			values = append(values, echo.PathValue{Name: name, Value: value})
		}

		ctx.SetPathValues(values)
	}

	return ctx, rec
}

// Serve runs req through a fully routed echo instance.
func Serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	return rec
}
