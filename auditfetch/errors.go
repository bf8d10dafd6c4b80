package auditfetch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuditProvenance  = errors.New("auditfetch: audit provenance violation")
	ErrHTTPStatus       = errors.New("auditfetch: unsuccessful HTTP status")
	ErrEmptyPath        = errors.New("auditfetch: request path is empty")
	ErrEncodeBody       = errors.New("auditfetch: failed to encode request body")
	ErrCreateRequest    = errors.New("auditfetch: failed to create request")
	ErrReadBody         = errors.New("auditfetch: failed to read response body")
	ErrDecodeResponse   = errors.New("auditfetch: failed to decode response")
	ErrResponseTooLarge = errors.New("auditfetch: response body too large")
	ErrRateLimited      = errors.New("auditfetch: outbound rate limit exceeded")
)

// AuditProvenanceError reports a response that broke the request-id contract:
// a missing X-Request-ID header, a body without request_id, or an unexpected
// content type.
type AuditProvenanceError struct {
	Message   string
	URL       string
	RequestID string
}

func (e *AuditProvenanceError) Error() string {
	return fmt.Sprintf("auditfetch: %s (url=%s, request_id=%s)", e.Message, e.URL, e.RequestID)
}

func (e *AuditProvenanceError) Is(target error) bool {
	return target == ErrAuditProvenance //nolint:errorlint
}

func (e *AuditProvenanceError) Unwrap() error {
	return ErrAuditProvenance
}

func newProvenanceError(url, requestID, format string, args ...any) *AuditProvenanceError {
	return &AuditProvenanceError{
		Message:   fmt.Sprintf(format, args...),
		URL:       url,
		RequestID: requestID,
	}
}

// HTTPError is returned for any non-2xx response that carried the response
// request-id header. Body holds the decoded JSON value, the raw text, or nil.
type HTTPError struct {
	Status    int
	Message   string
	Body      any
	RequestID string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("auditfetch: HTTP %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrHTTPStatus //nolint:errorlint
}

func (e *HTTPError) Unwrap() error {
	return ErrHTTPStatus
}

// Field returns a top-level string field from a JSON object body.
func (e *HTTPError) Field(name string) string {
	obj, ok := e.Body.(map[string]any)
	if !ok {
		return ""
	}

	value, _ := obj[name].(string)

	return value
}

func AsProvenanceError(err error) (*AuditProvenanceError, bool) {
	var provErr *AuditProvenanceError
	if errors.As(err, &provErr) {
		return provErr, true
	}

	return nil, false
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}

	return nil, false
}

// IsUnauthorized reports whether err is an HTTPError with status 401.
func IsUnauthorized(err error) bool {
	httpErr, ok := AsHTTPError(err)

	return ok && httpErr.Status == http.StatusUnauthorized
}

// RequestIDOf returns the request id carried by a typed fetch error, if any.
func RequestIDOf(err error) string {
	if provErr, ok := AsProvenanceError(err); ok {
		return provErr.RequestID
	}

	if httpErr, ok := AsHTTPError(err); ok {
		return httpErr.RequestID
	}

	return ""
}
