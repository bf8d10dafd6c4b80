package jwks

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func WithHTTPClient(client *http.Client) Option {
	return func(cfg *Config) {
		cfg.httpClient = client
	}
}

func WithRateLimitBurst(burst int) Option {
	return func(cfg *Config) {
		if burst > 0 {
			cfg.rateLimitBurst = burst
		}
	}
}

func WithRefreshTimeout(timeout time.Duration) Option {
	return func(cfg *Config) {
		if timeout > 0 {
			cfg.refreshTimeout = timeout
		}
	}
}

func WithRefreshInterval(interval time.Duration) Option {
	return func(cfg *Config) {
		if interval > 0 {
			cfg.refreshInterval = interval
		}
	}
}

func WithRateLimitWaitMax(maxWait time.Duration) Option {
	return func(cfg *Config) {
		cfg.rateLimitWaitMax = maxWait
	}
}

func WithValidationSkipAll(skip bool) Option {
	return func(cfg *Config) {
		cfg.validationSkipAll = skip
	}
}

// WithIssuer requires the iss claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(cfg *Config) {
		cfg.parserOptions = append(cfg.parserOptions, jwt.WithIssuer(issuer))
	}
}

func WithAudience(audience string) Option {
	return func(cfg *Config) {
		cfg.parserOptions = append(cfg.parserOptions, jwt.WithAudience(audience))
	}
}

func WithLeeway(leeway time.Duration) Option {
	return func(cfg *Config) {
		cfg.parserOptions = append(cfg.parserOptions, jwt.WithLeeway(leeway))
	}
}

func WithValidMethods(methods ...string) Option {
	return func(cfg *Config) {
		cfg.parserOptions = append(cfg.parserOptions, jwt.WithValidMethods(methods))
	}
}
