// Package goredis owns the shared go-redis client used by the rate limiter,
// the credential cache and the audit stream.
package goredis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultDialTimeout  = 5 * time.Second
	defaultIOTimeout    = 3 * time.Second
	defaultPoolSize     = 10
	defaultMinIdleConns = 1
	defaultMaxRetries   = 3
	startupPingTimeout  = 5 * time.Second
	maxPort             = 65535
)

var (
	ErrNilConfig      = errors.New("goredis: configuration must not be nil")
	ErrNilClient      = errors.New("goredis: client is nil")
	ErrMissingAddress = errors.New("goredis: url or host is required")
	ErrInvalidPort    = errors.New("goredis: port must be between 1 and 65535")
	ErrInvalidDB      = errors.New("goredis: database number must be non-negative")
	ErrInvalidPool    = errors.New("goredis: pool size must not be negative")
	ErrCAParse        = errors.New("goredis: failed to parse CA certificate")
	ErrNoActiveConns  = errors.New("goredis: no active connections in pool")
)

// Config describes one Redis (or Valkey) endpoint. URL, when set, takes
// precedence over Host/Port/Password/DB.
type Config struct {
	URL           string        `env:"REDIS_URL"`
	Host          string        `env:"REDIS_HOST"`
	Port          int           `env:"REDIS_PORT"           envDefault:"6379"`
	Password      string        `env:"REDIS_PASSWORD"`
	DB            int           `env:"REDIS_DB"`
	PoolSize      int           `env:"REDIS_POOL_SIZE"`
	MinIdleConns  int           `env:"REDIS_MIN_IDLE_CONNS"`
	MaxRetries    int           `env:"REDIS_MAX_RETRIES"`
	DialTimeout   time.Duration `env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `env:"REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `env:"REDIS_WRITE_TIMEOUT"`
	TLSEnabled    bool          `env:"REDIS_TLS_ENABLED"`
	TLSSkipVerify bool          `env:"REDIS_TLS_SKIP_VERIFY"`
	TLSCAFile     string        `env:"REDIS_TLS_CA_FILE"`
	TLSCertFile   string        `env:"REDIS_TLS_CERT_FILE"`
	TLSKeyFile    string        `env:"REDIS_TLS_KEY_FILE"`
}

func (cfg *Config) Validate() error {
	if cfg.URL != "" {
		return nil
	}

	if cfg.Host == "" {
		return ErrMissingAddress
	}

	if cfg.Port < 1 || cfg.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, cfg.Port)
	}

	if cfg.DB < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDB, cfg.DB)
	}

	if cfg.PoolSize < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPool, cfg.PoolSize)
	}

	return nil
}

// WithDefaults fills zero durations and pool sizes in place.
func (cfg *Config) WithDefaults() *Config {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultIOTimeout
	}

	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultIOTimeout
	}

	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaultPoolSize
	}

	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaultMinIdleConns
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	return cfg
}

// Redis embeds the client so callers can use it anywhere a
// redis.UniversalClient is accepted.
type Redis struct {
	*redis.Client
}

func New(cfg *Config) (*Redis, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if err := cfg.WithDefaults().Validate(); err != nil {
		return nil, err
	}

	opt, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	return &Redis{Client: redis.NewClient(opt)}, nil
}

//nolint:exhaustruct
func clientOptions(cfg *Config) (*redis.Options, error) {
	var opt *redis.Options

	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("goredis: invalid url: %w", err)
		}

		opt = parsed
	} else {
		opt = &redis.Options{
			Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
	}

	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.WriteTimeout = cfg.WriteTimeout
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.MaxRetries = cfg.MaxRetries

	if cfg.TLSEnabled {
		tlsConfig, err := tlsConfig(cfg)
		if err != nil {
			return nil, err
		}

		opt.TLSConfig = tlsConfig
	}

	return opt, nil
}

//nolint:gosec,exhaustruct
func tlsConfig(cfg *Config) (*tls.Config, error) {
	conf := &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("goredis: failed to load client certificate: %w", err)
		}

		conf.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		pem, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("goredis: failed to read CA certificate: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, ErrCAParse
		}

		conf.RootCAs = pool
	}

	return conf, nil
}

// Start pings once and then blocks until ctx is cancelled.
func (rds *Redis) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
	defer cancel()

	if err := rds.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("goredis: startup ping failed: %w", err)
	}

	log.Info().
		Str("service_name", rds.Name()).
		Str("addr", rds.Options().Addr).
		Msg("Redis client is ready.")

	<-ctx.Done()

	return nil
}

func (rds *Redis) Stop() error {
	if rds.Client == nil {
		return ErrNilClient
	}

	if err := rds.Close(); err != nil {
		return fmt.Errorf("goredis: failed to close client: %w", err)
	}

	log.Info().Str("service_name", rds.Name()).Msg("Redis client closed.")

	return nil
}

func (rds *Redis) Name() string {
	return "redis"
}

func (rds *Redis) HealthCheck(ctx context.Context) error {
	if rds.Client == nil {
		return ErrNilClient
	}

	if err := rds.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("goredis: health check failed: %w", err)
	}

	if stats := rds.PoolStats(); stats != nil && stats.TotalConns == 0 {
		return ErrNoActiveConns
	}

	return nil
}
