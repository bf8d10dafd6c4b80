package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"

	"github.com/reconai/auditkit/validator"
)

// ErrorResponse is the body of every failed request. RequestID mirrors the
// X-Request-ID response header.
type ErrorResponse struct {
	RequestID string                     `json:"request_id,omitempty"`
	Message   string                     `json:"message"`
	Errors    validator.ValidationErrors `json:"errors,omitempty"`
	Internal  string                     `json:"internal,omitempty"`
}

type ErrorHandlerConfig struct {
	Logger                *zerolog.Logger
	LogErrors             bool
	IncludeInternalErrors bool
}

// ErrorHandler renders errors as ErrorResponse. HTTP errors keep their code,
// validation errors become 400 and anything else is a 500 unless next is
// given, in which case next handles it.
func ErrorHandler(next echo.HTTPErrorHandler, config ...*ErrorHandlerConfig) echo.HTTPErrorHandler {
	cfg := &ErrorHandlerConfig{} //nolint:exhaustruct
	if len(config) > 0 && config[0] != nil {
		cfg = config[0]
	}

	return func(ectx *echo.Context, err error) {
		if res, unwrapErr := echo.UnwrapResponse(ectx.Response()); unwrapErr == nil && res.Committed {
			return
		}

		code, body, handled := classifyError(ectx, err, cfg)
		if !handled && next != nil {
			logFailure(ectx, cfg, http.StatusInternalServerError, err)
			next(ectx, err)

			return
		}

		logFailure(ectx, cfg, code, err)

		if ectx.Request().Method == http.MethodHead {
			_ = ectx.NoContent(code)

			return
		}

		_ = ectx.JSON(code, body)
	}
}

func classifyError(ectx *echo.Context, err error, cfg *ErrorHandlerConfig) (int, ErrorResponse, bool) {
	body := ErrorResponse{ //nolint:exhaustruct
		RequestID: GetRequestID(ectx),
	}

	var (
		httpErr    *echo.HTTPError
		validation validator.ValidationErrors
	)

	switch {
	case errors.As(err, &validation):
		body.Message = "request validation failed"
		body.Errors = validation

		return http.StatusBadRequest, body, true
	case errors.As(err, &httpErr):
		body.Message = fmt.Sprint(httpErr.Message)

		if cfg.IncludeInternalErrors {
			if internal := httpErr.Unwrap(); internal != nil {
				body.Internal = internal.Error()
			}
		}

		return httpErr.Code, body, true
	default:
		body.Message = http.StatusText(http.StatusInternalServerError)

		if cfg.IncludeInternalErrors {
			body.Internal = err.Error()
		}

		return http.StatusInternalServerError, body, false
	}
}

func logFailure(ectx *echo.Context, cfg *ErrorHandlerConfig, code int, err error) {
	if !cfg.LogErrors || cfg.Logger == nil {
		return
	}

	event := cfg.Logger.Info()

	switch {
	case code >= http.StatusInternalServerError:
		event = cfg.Logger.Error()
	case code >= http.StatusBadRequest:
		event = cfg.Logger.Warn()
	}

	req := ectx.Request()

	event.
		Err(err).
		Int("status_code", code).
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("request_id", GetRequestID(ectx)).
		Str("handler", GetHandler(ectx)).
		Msg("Request failed")
}
