package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v5"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultJWTContextKey = "user"

var (
	ErrTokenRequired = echo.NewHTTPError(http.StatusUnauthorized, "Authorization header is required")
	ErrInvalidToken  = echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
)

// ExtendedClaims are the claims the backend reads from bearer tokens. OrgID
// scopes every request to one organization.
type ExtendedClaims struct {
	Azp   string `json:"azp,omitempty"`
	OrgID string `json:"org_id,omitempty"`
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

func (c *ExtendedClaims) GetAzp() string {
	return c.Azp
}

// HasScope reports whether the space-separated scope claim contains scope.
func (c *ExtendedClaims) HasScope(scope string) bool {
	for _, s := range strings.Fields(c.Scope) {
		if s == scope {
			return true
		}
	}

	return false
}

type JWTConfig struct {
	Skipper       middleware.Skipper
	Logger        *zerolog.Logger
	Keyfunc       jwt.Keyfunc
	NewClaimsFunc func(*echo.Context) jwt.Claims
	ContextKey    string
	TokenLookup   string
}

func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		Skipper:       middleware.DefaultSkipper,
		Logger:        &log.Logger,
		Keyfunc:       nil,
		NewClaimsFunc: newExtendedClaims,
		ContextKey:    defaultJWTContextKey,
		TokenLookup:   "",
	}
}

//nolint:ireturn
func newExtendedClaims(_ *echo.Context) jwt.Claims {
	return &ExtendedClaims{} //nolint:exhaustruct
}

// JWT verifies bearer tokens with keyfunc, typically a *jwks.Verifier's
// Keyfunc method.
func JWT(keyfunc jwt.Keyfunc) echo.MiddlewareFunc {
	config := DefaultJWTConfig()
	config.Keyfunc = keyfunc

	return JWTWithConfig(config)
}

func JWTWithConfig(config JWTConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}

	if config.NewClaimsFunc == nil {
		config.NewClaimsFunc = newExtendedClaims
	}

	if config.ContextKey == "" {
		config.ContextKey = defaultJWTContextKey
	}

	//nolint:exhaustruct
	verify := echojwt.WithConfig(echojwt.Config{
		Skipper:        config.Skipper,
		ContextKey:     config.ContextKey,
		TokenLookup:    config.TokenLookup,
		KeyFunc:        config.Keyfunc,
		NewClaimsFunc:  config.NewClaimsFunc,
		SuccessHandler: jwtSuccessHandler(config),
		ErrorHandler:   jwtErrorHandler(config.Logger),
	})

	return verify
}

func jwtSuccessHandler(config JWTConfig) func(*echo.Context) error {
	return func(c *echo.Context) error {
		token, ok := c.Get(config.ContextKey).(*jwt.Token)
		if !ok {
			return ErrInvalidToken
		}

		c.Set(ContextKeyToken, token.Raw)

		if claims, ok := token.Claims.(*ExtendedClaims); ok {
			c.Set(ContextKeyClaims, claims)
		}

		return nil
	}
}

func jwtErrorHandler(logger *zerolog.Logger) func(*echo.Context, error) error {
	return func(c *echo.Context, err error) error {
		if logger != nil {
			logger.Warn().Err(err).Str("request_id", GetRequestID(c)).Msg("JWT verification failed")
		}

		if strings.Contains(err.Error(), "missing value") {
			return ErrTokenRequired
		}

		return ErrInvalidToken
	}
}
