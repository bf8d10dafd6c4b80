package middleware

import (
	"errors"
	"maps"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
)

type LogFieldExtractor func(*echo.Context) map[string]any

// RequestLogger writes one line per request. Errors returned by the chain are
// logged with the status they will be rendered with and passed on unchanged.
func RequestLogger(logger zerolog.Logger, extractors ...LogFieldExtractor) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			status, size := responseStatus(ctx, err)

			fields := map[string]any{
				"remote_ip":  ctx.RealIP(),
				"latency":    time.Since(start).String(),
				"method":     req.Method,
				"uri":        req.RequestURI,
				"status":     status,
				"size":       size,
				"user_agent": req.UserAgent(),
			}

			if id := GetRequestID(ctx); id != "" {
				fields["request_id"] = id
			}

			for _, extractor := range extractors {
				maps.Copy(fields, extractor(ctx))
			}

			event := logger.Info()

			switch {
			case status >= http.StatusInternalServerError:
				event = logger.Error()
			case status >= http.StatusBadRequest:
				event = logger.Warn()
			}

			event.Fields(fields).Err(err).Msg("Request handled")

			return err
		}
	}
}

func responseStatus(ctx *echo.Context, err error) (int, int64) {
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr.Code, 0
		}

		return http.StatusInternalServerError, 0
	}

	res, unwrapErr := echo.UnwrapResponse(ctx.Response())
	if unwrapErr != nil {
		return http.StatusOK, 0
	}

	return res.Status, res.Size
}
