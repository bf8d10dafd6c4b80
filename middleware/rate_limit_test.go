package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/ratelimit"
	"github.com/reconai/auditkit/testutil"
)

var errLimiterDown = errors.New("redis down")

func newRateLimitedServer(t *testing.T, limiter ratelimit.Limiter) *echo.Echo {
	t.Helper()

	e := testutil.NewEcho()
	e.Use(middleware.RequestID(nil))
	e.Use(middleware.RateLimit(limiter))
	e.GET("/v1/things", func(c *echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"request_id": middleware.GetRequestID(c)})
	})

	return e
}

func TestRateLimit_HeadersAndRejection(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimit.NewLocal(2, time.Minute)
	require.NoError(t, err)

	e := newRateLimitedServer(t, limiter)

	first := testutil.Serve(e, httptest.NewRequest(http.MethodGet, "/v1/things", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "2", first.Header().Get(middleware.HeaderRateLimitLimit))
	assert.Equal(t, "1", first.Header().Get(middleware.HeaderRateLimitRemaining))

	second := testutil.Serve(e, httptest.NewRequest(http.MethodGet, "/v1/things", nil))
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get(middleware.HeaderRateLimitRemaining))

	third := testutil.Serve(e, httptest.NewRequest(http.MethodGet, "/v1/things", nil))

	env := testutil.AssertEnvelope(t, third, http.StatusTooManyRequests)
	assert.Equal(t, "rate limit exceeded", env.Message)
	assert.NotEmpty(t, third.Header().Get(middleware.HeaderRetryAfter))
	assert.NotEqual(t, "0", third.Header().Get(middleware.HeaderRateLimitReset))
}

func TestRateLimit_KeysByClientIP(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimit.NewLocal(1, time.Minute)
	require.NoError(t, err)

	e := newRateLimitedServer(t, limiter)

	for _, ip := range []string{"10.0.0.1:1234", "10.0.0.2:1234"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/things", nil)
		req.RemoteAddr = ip

		assert.Equal(t, http.StatusOK, testutil.Serve(e, req).Code, ip)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.LimiterFunc(func(context.Context, string) (ratelimit.Decision, error) {
		return ratelimit.Decision{}, errLimiterDown //nolint:exhaustruct
	})

	rec := testutil.Serve(newRateLimitedServer(t, limiter), httptest.NewRequest(http.MethodGet, "/v1/things", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(middleware.HeaderRateLimitLimit))
}

func TestRateLimit_CustomKey(t *testing.T) {
	t.Parallel()

	var keys []string

	limiter := ratelimit.LimiterFunc(func(_ context.Context, key string) (ratelimit.Decision, error) {
		keys = append(keys, key)

		return ratelimit.Decision{Allowed: true, Limit: 10, Remaining: 9, ResetAfter: 0}, nil
	})

	e := testutil.NewEcho()
	e.Use(middleware.RateLimitWithConfig(middleware.RateLimitConfig{ //nolint:exhaustruct
		Limiter: limiter,
		KeyFunc: func(c *echo.Context) string { return c.Request().Header.Get("X-Api-Client") },
	}))
	e.GET("/", func(c *echo.Context) error { return c.NoContent(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Api-Client", "agent-1")

	rec := testutil.Serve(e, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"agent-1"}, keys)
	assert.Equal(t, "0", rec.Header().Get(middleware.HeaderRateLimitReset))
}
