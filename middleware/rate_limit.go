package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/ratelimit"
)

type RateLimitConfig struct {
	Skipper middleware.Skipper
	Limiter ratelimit.Limiter
	// KeyFunc picks the budget a request counts against. Defaults to the
	// caller's organization, falling back to the client IP.
	KeyFunc func(*echo.Context) string
}

// RateLimit rejects requests over budget with 429 and always reports the
// budget in X-Ratelimit-* headers. Limiter failures let the request through.
func RateLimit(limiter ratelimit.Limiter) echo.MiddlewareFunc {
	return RateLimitWithConfig(RateLimitConfig{
		Skipper: middleware.DefaultSkipper,
		Limiter: limiter,
		KeyFunc: OrgOrIPKey,
	})
}

func RateLimitWithConfig(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.KeyFunc == nil {
		config.KeyFunc = OrgOrIPKey
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if config.Skipper(c) || config.Limiter == nil {
				return next(c)
			}

			decision, err := config.Limiter.Allow(c.Request().Context(), config.KeyFunc(c))
			if err != nil {
				log.Warn().Err(err).Str("request_id", GetRequestID(c)).Msg("Rate limiter unavailable, allowing request")

				return next(c)
			}

			resetSeconds := strconv.Itoa(int(math.Ceil(decision.ResetAfter.Seconds())))

			header := c.Response().Header()
			header.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			header.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
			header.Set(HeaderRateLimitReset, resetSeconds)

			if !decision.Allowed {
				header.Set(HeaderRetryAfter, resetSeconds)

				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}

func OrgOrIPKey(c *echo.Context) string {
	if org := GetOrgID(c); org != "" {
		return "org:" + org
	}

	return "ip:" + c.RealIP()
}
