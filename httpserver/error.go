package httpserver

import (
	"fmt"

	"github.com/labstack/echo/v5"
)

// HTTPError turns err into an echo error whose message is the error text,
// optionally followed by one detail.
func HTTPError(code int, err error, details ...string) *echo.HTTPError {
	message := err.Error()

	if len(details) > 0 {
		message = fmt.Sprintf("%s: %s", message, details[0])
	}

	return echo.NewHTTPError(code, message)
}
