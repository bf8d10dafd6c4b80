package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/reconai/auditkit/requestid"
)

const maxRequestIDLength = 256

var (
	ErrRequestIDTooLong  = fmt.Errorf("middleware: request id longer than %d bytes", maxRequestIDLength)
	ErrRequestIDBadChars = errors.New("middleware: request id contains whitespace or control characters")
)

type RequestIDConfig struct {
	Skipper   middleware.Skipper
	Generator requestid.Generator
	// AutoGenerate issues an id when the caller sent none. When false a
	// missing header is rejected with 400.
	AutoGenerate bool
	Validator    func(string) error
}

func DefaultRequestIDConfig() RequestIDConfig {
	return RequestIDConfig{
		Skipper:      middleware.DefaultSkipper,
		Generator:    requestid.New(),
		AutoGenerate: true,
		Validator:    ValidateRequestID,
	}
}

// ValidateRequestID accepts any printable id without whitespace. Callers pick
// their own id format, so UUIDs are not required.
func ValidateRequestID(id string) error {
	if len(id) > maxRequestIDLength {
		return ErrRequestIDTooLong
	}

	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || !unicode.IsPrint(r) }) >= 0 {
		return ErrRequestIDBadChars
	}

	return nil
}

// RequestID reads X-Request-ID, generating one when absent, stores it on the
// context and echoes it on the response before the handler runs. Rejected
// requests still get a server-issued id so the error response is traceable.
func RequestID(skipper middleware.Skipper) echo.MiddlewareFunc {
	config := DefaultRequestIDConfig()
	config.Skipper = skipper

	return RequestIDWithConfig(config)
}

func RequestIDWithConfig(config RequestIDConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.Generator == nil {
		config.Generator = requestid.New()
	}

	if config.Validator == nil {
		config.Validator = ValidateRequestID
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx *echo.Context) error {
			if config.Skipper(ctx) {
				return next(ctx)
			}

			req := ctx.Request()
			rid := strings.TrimSpace(req.Header.Get(HeaderXRequestID))

			var rejection error

			switch {
			case rid == "" && !config.AutoGenerate:
				rejection = echo.NewHTTPError(http.StatusBadRequest, "missing required header: "+HeaderXRequestID)
			case rid == "":
				rid = config.Generator.NewID()
				req.Header.Set(HeaderXRequestID, rid)
			default:
				if err := config.Validator(rid); err != nil {
					rejection = echo.NewHTTPError(http.StatusBadRequest,
						fmt.Sprintf("invalid %s: %v", HeaderXRequestID, err))
				}
			}

			if rejection != nil {
				rid = config.Generator.NewID()
			}

			ctx.Set(ContextKeyRequestID, rid)
			ctx.Response().Header().Set(HeaderXRequestID, rid)

			if rejection != nil {
				return rejection
			}

			return next(ctx)
		}
	}
}
