// Package middleware holds the echo middleware of the provenance backend:
// request-id echo, error envelopes, request logging, bearer auth and rate
// limiting.
package middleware

import (
	"errors"

	"github.com/labstack/echo/v5"

	"github.com/reconai/auditkit/auditfetch"
)

const (
	ContextKeyRequestID = "requestID"
	ContextKeyToken     = "token"
	ContextKeyClaims    = "claims"
	ContextKeyBody      = "body"
	ContextKeyHandler   = "handler"
)

const (
	HeaderXRequestID      = auditfetch.HeaderXRequestID
	HeaderXOrganizationID = auditfetch.HeaderXOrganizationID
)

const (
	HeaderRateLimitLimit     = "X-Ratelimit-Limit"
	HeaderRateLimitRemaining = "X-Ratelimit-Remaining"
	HeaderRateLimitReset     = "X-Ratelimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

var (
	ErrClaimsNotFound            = errors.New("middleware: jwt claims not found in context")
	ErrClaimsTypeAssertionFailed = errors.New("middleware: jwt claims have unexpected type")
)

// GetRequestID returns the id stored by RequestID, or "" outside it.
func GetRequestID(c *echo.Context) string {
	if requestID, ok := c.Get(ContextKeyRequestID).(string); ok {
		return requestID
	}

	return ""
}

func GetToken(c *echo.Context) string {
	if token, ok := c.Get(ContextKeyToken).(string); ok {
		return token
	}

	return ""
}

func GetExtendedClaims(c *echo.Context) (*ExtendedClaims, error) {
	value := c.Get(ContextKeyClaims)
	if value == nil {
		return nil, ErrClaimsNotFound
	}

	claims, ok := value.(*ExtendedClaims)
	if !ok {
		return nil, ErrClaimsTypeAssertionFailed
	}

	return claims, nil
}

// GetOrgID returns the organization of the authenticated caller, or "".
func GetOrgID(c *echo.Context) string {
	claims, err := GetExtendedClaims(c)
	if err != nil {
		return ""
	}

	return claims.OrgID
}

func GetHandler(c *echo.Context) string {
	if handler, ok := c.Get(ContextKeyHandler).(string); ok {
		return handler
	}

	return ""
}
