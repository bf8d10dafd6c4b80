package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/middleware"
)

type HandlerFunc[REQ any, RES any] func(log zerolog.Logger, c *echo.Context, req *REQ) (*HandlerResponse[RES], error)

// Wrapper binds and validates REQ, runs handler and writes its result in the
// {request_id, data} envelope. Errors are left to the error handler, which
// renders {request_id, message}.
func Wrapper[REQ any, RES any](name string, handler HandlerFunc[REQ, RES]) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Set(middleware.ContextKeyHandler, name)

		logger := log.With().
			Str("handler", name).
			Str("request_id", middleware.GetRequestID(c)).
			Logger()

		var req REQ

		if err := c.Bind(&req); err != nil {
			logger.Warn().Err(err).Msg("Request binding failed")

			return HTTPError(http.StatusBadRequest, err)
		}

		if err := c.Validate(&req); err != nil {
			logger.Warn().Err(err).Msg("Request validation failed")

			return err
		}

		c.Set(middleware.ContextKeyBody, &req)

		res, err := handler(logger, c, &req)
		if err != nil {
			return err
		}

		return Respond(c, res)
	}
}

// Respond writes res in the success envelope.
func Respond[T any](c *echo.Context, res *HandlerResponse[T]) error {
	status := res.Status
	if status == 0 {
		status = http.StatusOK
	}

	if status == http.StatusNoContent {
		return c.NoContent(status)
	}

	return c.JSON(status, APIResponse[T]{
		RequestID:  middleware.GetRequestID(c),
		Data:       res.Data,
		Pagination: res.Pagination,
	})
}
