package auditfetch

import (
	"io"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/reconai/auditkit/requestid"
)

const (
	HeaderContentType         = "Content-Type"
	HeaderXRequestID          = "X-Request-ID"
	HeaderXOrganizationID     = "X-Organization-ID"
	HeaderAuthorization       = "Authorization"
	ContentTypeJSON           = "application/json"
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// BodyRequestIDField is the JSON field every successful body must carry.
	BodyRequestIDField = "request_id"
)

type Option func(*Client)

// WithTimeout bounds every call, including reading a raw response body, by
// timeout. The client has no timeout unless one is given. The Doer is never
// modified.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.doer = httpClient
	}
}

func WithDoer(doer Doer) Option {
	return func(c *Client) {
		c.doer = doer
	}
}

// WithOrigin sets the same-origin host that relative URLs, including /api/
// routes, are dispatched to.
func WithOrigin(origin string) Option {
	return func(c *Client) {
		c.origin = origin
	}
}

func WithGenerator(gen requestid.Generator) Option {
	return func(c *Client) {
		c.generator = gen
	}
}

func WithCredentials(provider CredentialProvider) Option {
	return func(c *Client) {
		c.credentials = provider
	}
}

// WithDefaultTokenTemplate applies when a request does not name a template.
func WithDefaultTokenTemplate(template string) Option {
	return func(c *Client) {
		c.tokenTemplate = template
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for k, v := range headers {
			c.defaultHeaders.Set(k, v)
		}
	}
}

// WithMaxResponseSize caps how many body bytes are read. Zero means no limit.
func WithMaxResponseSize(size int64) Option {
	return func(c *Client) {
		c.maxResponseSize = size
	}
}

func WithLimiter(limiter Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// Options is the per-call configuration. Body may be nil, an io.Reader, a
// []byte, url.Values, a MultipartBody, a string holding JSON, or any value that
// encodes to JSON.
type Options struct {
	Method             string
	Header             http.Header
	Body               any
	Query              url.Values
	TokenTemplate      string
	BaseURL            string
	RawResponse        bool
	SkipBodyValidation bool
}

// MultipartBody carries a pre-encoded multipart payload and its boundary
// content type.
type MultipartBody struct {
	Reader      io.Reader
	ContentType string
}

type RequestOption func(*Options)

func WithOptions(opts Options) RequestOption {
	return func(o *Options) {
		header := o.Header
		*o = opts

		o.Header = header
		for k, values := range opts.Header {
			o.Header[k] = append([]string(nil), values...)
		}

		if opts.Query != nil {
			o.Query = maps.Clone(opts.Query)
		}
	}
}

func WithMethod(method string) RequestOption {
	return func(o *Options) {
		o.Method = method
	}
}

func WithHeader(key, value string) RequestOption {
	return func(o *Options) {
		o.Header.Set(key, value)
	}
}

func WithBody(body any) RequestOption {
	return func(o *Options) {
		o.Body = body
	}
}

// WithJSONBody always encodes value as JSON, including strings and byte
// slices that WithBody would send verbatim.
func WithJSONBody(value any) RequestOption {
	return func(o *Options) {
		o.Body = jsonBody{value: value}
	}
}

type jsonBody struct {
	value any
}

func WithQuery(key, value string) RequestOption {
	return func(o *Options) {
		if o.Query == nil {
			o.Query = url.Values{}
		}

		o.Query.Add(key, value)
	}
}

func WithTokenTemplate(template string) RequestOption {
	return func(o *Options) {
		o.TokenTemplate = template
	}
}

// WithBaseURL overrides the client's base for this call.
func WithBaseURL(base string) RequestOption {
	return func(o *Options) {
		o.BaseURL = base
	}
}

// WithRawResponse returns the *http.Response once the response header check
// passes. The caller must close its body.
func WithRawResponse() RequestOption {
	return func(o *Options) {
		o.RawResponse = true
	}
}

func WithSkipBodyValidation() RequestOption {
	return func(o *Options) {
		o.SkipBodyValidation = true
	}
}
