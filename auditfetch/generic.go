//nolint:ireturn
package auditfetch

import (
	"context"
	"net/http"
)

// FetchJSON performs an audited call and decodes the validated payload into T.
// A 204 yields the zero value.
func FetchJSON[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	var out T

	result, err := c.Fetch(ctx, path, opts...)
	if err != nil {
		return out, err
	}

	if err := result.Decode(&out); err != nil {
		return out, err
	}

	return out, nil
}

func Get[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return FetchJSON[T](ctx, c, path, withMethod(http.MethodGet, nil, opts)...)
}

func Post[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return FetchJSON[T](ctx, c, path, withMethod(http.MethodPost, body, opts)...)
}

func Put[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return FetchJSON[T](ctx, c, path, withMethod(http.MethodPut, body, opts)...)
}

func Patch[T any](ctx context.Context, c *Client, path string, body any, opts ...RequestOption) (T, error) {
	return FetchJSON[T](ctx, c, path, withMethod(http.MethodPatch, body, opts)...)
}

func Delete[T any](ctx context.Context, c *Client, path string, opts ...RequestOption) (T, error) {
	return FetchJSON[T](ctx, c, path, withMethod(http.MethodDelete, nil, opts)...)
}

// withMethod presets method and body ahead of caller options. The preset
// method wins over any WithMethod the caller passed.
func withMethod(method string, body any, opts []RequestOption) []RequestOption {
	all := make([]RequestOption, 0, len(opts)+2) //nolint:mnd

	if body != nil {
		all = append(all, WithBody(body))
	}

	all = append(all, opts...)

	return append(all, WithMethod(method))
}
