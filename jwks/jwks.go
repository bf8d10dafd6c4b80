// Package jwks verifies bearer tokens against JSON Web Key Sets.
package jwks

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	DefaultRateLimitBurst  = 5
	DefaultRefreshTimeout  = 10 * time.Second
	DefaultRefreshInterval = 60 * time.Minute
)

var (
	ErrNoURLs = errors.New("jwks: at least one url is required")
	ErrNoKeys = errors.New("jwks: at least one key is required")
)

// Verifier resolves signing keys by kid and validates tokens with them.
type Verifier struct {
	keyfunc.Keyfunc

	parser *jwt.Parser
}

type Config struct {
	httpClient        *http.Client
	rateLimitBurst    int
	refreshTimeout    time.Duration
	refreshInterval   time.Duration
	rateLimitWaitMax  time.Duration
	validationSkipAll bool
	parserOptions     []jwt.ParserOption
}

type Option func(*Config)

func newConfig(opts []Option) *Config {
	cfg := &Config{
		httpClient:        nil,
		rateLimitBurst:    DefaultRateLimitBurst,
		refreshTimeout:    DefaultRefreshTimeout,
		refreshInterval:   DefaultRefreshInterval,
		rateLimitWaitMax:  0,
		validationSkipAll: false,
		parserOptions:     nil,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// New fetches the key sets at urls and keeps them refreshed in the background
// until ctx is done. Unknown kids trigger a rate limited refresh.
func New(ctx context.Context, urls []string, opts ...Option) (*Verifier, error) {
	if len(urls) == 0 {
		return nil, ErrNoURLs
	}

	cfg := newConfig(opts)

	override := keyfunc.Override{
		Client:            cfg.httpClient,
		HTTPTimeout:       cfg.refreshTimeout,
		RefreshInterval:   cfg.refreshInterval,
		RefreshUnknownKID: rate.NewLimiter(rate.Every(time.Second), cfg.rateLimitBurst),
		RefreshErrorHandlerFunc: func(url string) func(ctx context.Context, err error) {
			return func(_ context.Context, err error) {
				log.Error().
					Err(err).
					Str("jwks_url", url).
					Msg("JWKS key refresh failed")
			}
		},
		RateLimitWaitMax:  cfg.rateLimitWaitMax,
		ValidationSkipAll: cfg.validationSkipAll,
	}

	kf, err := keyfunc.NewDefaultOverrideCtx(ctx, urls, override)
	if err != nil {
		log.Error().
			Err(err).
			Strs("jwks_urls", urls).
			Msg("Failed to initialize JWKS keyfunc")

		return nil, fmt.Errorf("jwks: %w", err)
	}

	log.Info().
		Strs("jwks_urls", urls).
		Dur("refresh_interval", cfg.refreshInterval).
		Dur("refresh_timeout", cfg.refreshTimeout).
		Msg("JWKS keyfunc initialized")

	return &Verifier{Keyfunc: kf, parser: jwt.NewParser(cfg.parserOptions...)}, nil
}

// Key is a public verification key known ahead of time.
type Key struct {
	ID     string
	Alg    string
	Public crypto.PublicKey
}

// NewFromKeys builds a Verifier over a fixed in-memory key set.
func NewFromKeys(ctx context.Context, keys []Key, opts ...Option) (*Verifier, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	cfg := newConfig(opts)
	storage := jwkset.NewMemoryStorage()

	for _, key := range keys {
		//nolint:exhaustruct
		jwk, err := jwkset.NewJWKFromKey(key.Public, jwkset.JWKOptions{
			Metadata: jwkset.JWKMetadataOptions{
				ALG: jwkset.ALG(key.Alg),
				KID: key.ID,
				USE: jwkset.UseSig,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("jwks: key %q: %w", key.ID, err)
		}

		if err := storage.KeyWrite(ctx, jwk); err != nil {
			return nil, fmt.Errorf("jwks: store key %q: %w", key.ID, err)
		}
	}

	//nolint:exhaustruct
	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}

	return &Verifier{Keyfunc: kf, parser: jwt.NewParser(cfg.parserOptions...)}, nil
}

// Parse verifies raw and returns its claims.
func (v *Verifier) Parse(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}

	if _, err := v.parser.ParseWithClaims(raw, claims, v.Keyfunc.Keyfunc); err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}

	return claims, nil
}
