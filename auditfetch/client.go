// Package auditfetch is an HTTP client that enforces the request-id
// provenance contract: every request carries a fresh X-Request-ID, every
// response must echo the header, and successful JSON bodies must embed a
// request_id. Violations fail closed with typed errors.
package auditfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reconai/auditkit/requestid"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ Doer = (*http.Client)(nil)

// Limiter gates outbound calls per destination host.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Client struct {
	baseURL         string
	origin          string
	doer            Doer
	generator       requestid.Generator
	credentials     CredentialProvider
	tokenTemplate   string
	defaultHeaders  http.Header
	maxResponseSize int64 // 0 means no limit
	timeout         time.Duration
	limiter         Limiter
	observer        Observer
	now             func() time.Time
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         baseURL,
		origin:          "",
		doer:            &http.Client{}, //nolint:exhaustruct
		generator:       requestid.New(),
		credentials:     nil,
		tokenTemplate:   "",
		defaultHeaders:  make(http.Header),
		maxResponseSize: 0,
		timeout:         0,
		limiter:         nil,
		observer:        nil,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewFromConfig builds a client from environment-derived defaults. Explicit
// options are applied after the config.
func NewFromConfig(cfg Config, opts ...Option) *Client {
	base := []Option{
		WithOrigin(cfg.Origin),
		WithDefaultTokenTemplate(cfg.TokenTemplate),
		WithMaxResponseSize(cfg.MaxResponseSize),
	}

	return New(cfg.DefaultBaseURL(), append(base, opts...)...)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Origin() string {
	return c.origin
}

// Fetch performs one audited call. Transport errors are returned exactly as
// the underlying Doer produced them; contract failures are
// *AuditProvenanceError and non-2xx statuses are *HTTPError.
func (c *Client) Fetch(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}

	options := c.buildOptions(opts)
	resolved := ResolveURL(path, c.resolveBase(options))
	requestID := c.generator.NewID()

	//nolint:exhaustruct
	record := CallRecord{
		RequestID: requestID,
		Method:    options.Method,
		URL:       resolved,
		StartedAt: c.now(),
	}

	callCtx, cancel := c.callContext(ctx)

	result, err := c.fetch(callCtx, resolved, requestID, options, &record)
	if result != nil && result.Raw != nil {
		result.Raw.Body = &cancelOnClose{ReadCloser: result.Raw.Body, cancel: cancel}
	} else {
		cancel()
	}

	c.observe(ctx, &record, err)

	return result, err
}

func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.timeout)
}

// cancelOnClose keeps the call deadline alive until a raw body is closed.
type cancelOnClose struct {
	io.ReadCloser

	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()

	return b.ReadCloser.Close() //nolint:wrapcheck
}

func (c *Client) buildOptions(opts []RequestOption) Options {
	//nolint:exhaustruct
	options := Options{
		Method: http.MethodGet,
		Header: make(http.Header),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Method == "" {
		options.Method = http.MethodGet
	}

	if options.Header == nil {
		options.Header = make(http.Header)
	}

	if options.TokenTemplate == "" {
		options.TokenTemplate = c.tokenTemplate
	}

	return options
}

func (c *Client) resolveBase(options Options) string {
	if options.BaseURL != "" {
		return options.BaseURL
	}

	return c.baseURL
}

func (c *Client) fetch(
	ctx context.Context,
	resolved string,
	requestID string,
	options Options,
	record *CallRecord,
) (*Result, error) {
	target := c.dispatchURL(resolved, options.Query)

	if err := c.checkLimit(ctx, target); err != nil {
		return nil, err
	}

	req, err := c.buildRequest(ctx, target, requestID, options)
	if err != nil {
		return nil, err
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	record.Status = resp.StatusCode

	responseID := resp.Header.Get(HeaderXRequestID)
	record.ResponseRequestID = responseID

	if responseID == "" {
		discardBody(resp)

		return nil, newProvenanceError(resolved, requestID, "response is missing the %s header", HeaderXRequestID)
	}

	result := &Result{ //nolint:exhaustruct
		Status:            resp.StatusCode,
		Header:            resp.Header,
		RequestID:         requestID,
		ResponseRequestID: responseID,
	}

	if options.RawResponse {
		result.Raw = resp

		return result, nil
	}

	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.buildHTTPError(resp, requestID)
	}

	if resp.StatusCode == http.StatusNoContent {
		result.NoContent = true

		return result, nil
	}

	body, err := c.readBody(resp.Body)
	if err != nil {
		return nil, err
	}

	result.Body = body

	return c.validateBody(result, resolved, requestID, options.SkipBodyValidation)
}

func (c *Client) validateBody(result *Result, resolved, requestID string, skip bool) (*Result, error) {
	contentType := result.Header.Get(HeaderContentType)

	if !isJSONContentType(contentType) {
		if skip {
			result.setText()

			return result, nil
		}

		return nil, newProvenanceError(resolved, requestID, "unexpected content type %q", contentType)
	}

	var value any
	if err := json.Unmarshal(result.Body, &value); err != nil {
		if skip {
			result.setText()

			return result, nil
		}

		return nil, newProvenanceError(resolved, requestID, "response body is not valid JSON: %v", err)
	}

	if !skip && !hasBodyRequestID(value) {
		return nil, newProvenanceError(resolved, requestID, "response body is missing %s", BodyRequestIDField)
	}

	result.Value = value

	return result, nil
}

// dispatchURL anchors relative URLs on the configured origin and appends the
// query. Unanchored relative URLs are sent as-is and fail in the transport.
func (c *Client) dispatchURL(resolved string, query url.Values) string {
	target := resolved

	if !IsAbsoluteURL(target) && c.origin != "" {
		target = strings.TrimRight(c.origin, "/") + "/" + strings.TrimLeft(target, "/")
	}

	if len(query) == 0 {
		return target
	}

	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}

	return target + sep + query.Encode()
}

func (c *Client) checkLimit(ctx context.Context, target string) error {
	if c.limiter == nil {
		return nil
	}

	key := hostOf(target)

	allowed, err := c.limiter.Allow(ctx, key)
	if err != nil {
		// An unavailable limiter does not block traffic.
		return nil //nolint:nilerr
	}

	if !allowed {
		return fmt.Errorf("%w: %s", ErrRateLimited, key)
	}

	return nil
}

func (c *Client) buildRequest(ctx context.Context, target, requestID string, options Options) (*http.Request, error) {
	bodyReader, contentType, err := encodeBody(options.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, options.Method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCreateRequest, err)
	}

	for k, values := range c.defaultHeaders {
		req.Header[k] = append([]string(nil), values...)
	}

	for k, values := range options.Header {
		req.Header[k] = append([]string(nil), values...)
	}

	req.Header.Set(HeaderXRequestID, requestID)

	if contentType != "" && req.Header.Get(HeaderContentType) == "" {
		req.Header.Set(HeaderContentType, contentType)
	}

	AttachCredentials(ctx, c.credentials, options.TokenTemplate, req.Header)

	return req, nil
}

// encodeBody returns the reader to send and the content type to default to.
// Binary, multipart and form payloads never default to JSON.
func encodeBody(body any) (io.Reader, string, error) {
	switch payload := body.(type) {
	case nil:
		return nil, "", nil
	case MultipartBody:
		return payload.Reader, payload.ContentType, nil
	case *MultipartBody:
		return payload.Reader, payload.ContentType, nil
	case url.Values:
		return strings.NewReader(payload.Encode()), ContentTypeFormURLEncoded, nil
	case []byte:
		return bytes.NewReader(payload), "", nil
	case io.Reader:
		return payload, "", nil
	case string:
		return strings.NewReader(payload), ContentTypeJSON, nil
	case json.RawMessage:
		return bytes.NewReader(payload), ContentTypeJSON, nil
	case jsonBody:
		encoded, err := json.Marshal(payload.value)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}

		return bytes.NewReader(encoded), ContentTypeJSON, nil
	default:
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrEncodeBody, err)
		}

		return bytes.NewReader(encoded), ContentTypeJSON, nil
	}
}

func (c *Client) readBody(body io.Reader) ([]byte, error) {
	reader := body
	if c.maxResponseSize > 0 {
		reader = io.LimitReader(body, c.maxResponseSize+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadBody, err)
	}

	if c.maxResponseSize > 0 && int64(len(data)) > c.maxResponseSize {
		return nil, ErrResponseTooLarge
	}

	return data, nil
}

// buildHTTPError parses the error body on a best-effort basis. Read and parse
// failures leave Body nil.
func (c *Client) buildHTTPError(resp *http.Response, requestID string) *HTTPError {
	httpErr := &HTTPError{
		Status:    resp.StatusCode,
		Message:   http.StatusText(resp.StatusCode),
		Body:      nil,
		RequestID: requestID,
	}

	data, err := c.readBody(resp.Body)
	if err != nil || len(data) == 0 {
		return httpErr
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		httpErr.Body = string(data)

		return httpErr
	}

	httpErr.Body = parsed

	if obj, ok := parsed.(map[string]any); ok {
		if message, ok := obj["message"].(string); ok && message != "" {
			httpErr.Message = message
		}
	}

	return httpErr
}

func (c *Client) observe(ctx context.Context, record *CallRecord, err error) {
	if c.observer == nil {
		return
	}

	record.Duration = c.now().Sub(record.StartedAt)
	record.Outcome = Classify(err)

	if err != nil {
		record.Error = err.Error()
	}

	c.observer.ObserveCall(ctx, *record)
}

// Classify maps a Fetch error to the outcome reported in call records.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrAuditProvenance):
		return OutcomeProvenanceViolation
	case errors.Is(err, ErrHTTPStatus):
		return OutcomeHTTPError
	case errors.Is(err, ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, ErrEncodeBody), errors.Is(err, ErrCreateRequest), errors.Is(err, ErrEmptyPath):
		return OutcomeInvalidRequest
	default:
		return OutcomeTransportError
	}
}

func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

// hasBodyRequestID reports whether value is a JSON object whose request_id is
// truthy: present and not null, false, zero or the empty string.
func hasBodyRequestID(value any) bool {
	obj, ok := value.(map[string]any)
	if !ok {
		return false
	}

	switch id := obj[BodyRequestIDField].(type) {
	case nil:
		return false
	case bool:
		return id
	case string:
		return id != ""
	case float64:
		return id != 0
	default:
		return true
	}
}

func discardBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
