// Package config loads the environment configuration of the auditkit binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/goredis"
)

var (
	ErrMissingBaseURL   = errors.New("config: AUDITFETCH_API_URL or AUDITFETCH_API_BASE_URL is required")
	ErrMissingTargets   = errors.New("config: PROBE_TARGETS or PROBE_TARGETS_FILE is required")
	ErrUnknownLimiter   = errors.New("config: RATE_LIMIT_BACKEND must be local or redis")
	ErrMissingPostgres  = errors.New("config: POSTGRES_URL is required")
	ErrPartialClientKey = errors.New("config: CLIENT_ID and CLIENT_SECRET must be set together")
	ErrMissingTokenURL  = errors.New("config: TOKEN_URL or KEYCLOAK_BASE_URL with KEYCLOAK_REALM is required")
)

const (
	LimiterLocal = "local"
	LimiterRedis = "redis"
)

type Logging struct {
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

type HTTPServer struct {
	HTTPServerHost         string        `env:"HTTP_SERVER_HOST"          envDefault:"0.0.0.0"`
	HTTPServerPort         int           `env:"HTTP_SERVER_PORT"          envDefault:"8080"`
	HTTPEnableCORS         bool          `env:"HTTP_ENABLE_CORS"          envDefault:"true"`
	HTTPAllowOrigins       []string      `env:"HTTP_ALLOW_ORIGINS"        envSeparator:","`
	HTTPBodyLimit          string        `env:"HTTP_BODY_LIMIT"           envDefault:"10M"`
	HTTPServerReadTimeout  time.Duration `env:"HTTP_SERVER_READ_TIMEOUT"  envDefault:"30s"`
	HTTPServerWriteTimeout time.Duration `env:"HTTP_SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPStrictRequestID    bool          `env:"HTTP_STRICT_REQUEST_ID"    envDefault:"false"`
}

type MetricServer struct {
	MetricServerHost         string        `env:"METRIC_SERVER_HOST"          envDefault:"0.0.0.0"`
	MetricServerPort         int           `env:"METRIC_SERVER_PORT"          envDefault:"9090"`
	MetricServerReadTimeout  time.Duration `env:"METRIC_SERVER_READ_TIMEOUT"  envDefault:"10s"`
	MetricServerWriteTimeout time.Duration `env:"METRIC_SERVER_WRITE_TIMEOUT" envDefault:"10s"`
}

// Stub configures cmd/provenance-stub.
type Stub struct {
	Logging
	HTTPServer
	MetricServer

	GracefulShutdownPeriod time.Duration `env:"GRACEFUL_SHUTDOWN_PERIOD" envDefault:"10s"`

	// JWT auth is enabled when at least one JWKS url is set.
	JWKSURLs    []string `env:"JWKS_URLS"    envSeparator:","`
	JWTIssuer   string   `env:"JWT_ISSUER"`
	JWTAudience string   `env:"JWT_AUDIENCE"`

	// Rate limiting is enabled when RATE_LIMIT is positive.
	RateLimit        int           `env:"RATE_LIMIT"         envDefault:"0"`
	RateLimitWindow  time.Duration `env:"RATE_LIMIT_WINDOW"  envDefault:"1m"`
	RateLimitBackend string        `env:"RATE_LIMIT_BACKEND" envDefault:"local"`

	Redis goredis.Config
}

func (c *Stub) AuthEnabled() bool {
	return len(c.JWKSURLs) > 0
}

func (c *Stub) RateLimitEnabled() bool {
	return c.RateLimit > 0
}

func (c *Stub) Validate() error {
	if !c.RateLimitEnabled() {
		return nil
	}

	switch c.RateLimitBackend {
	case LimiterLocal:
		return nil
	case LimiterRedis:
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("config: redis: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLimiter, c.RateLimitBackend)
	}
}

// Agent configures cmd/provenance-agent.
type Agent struct {
	Logging
	MetricServer

	GracefulShutdownPeriod time.Duration `env:"GRACEFUL_SHUTDOWN_PERIOD" envDefault:"10s"`

	Fetch auditfetch.Config

	// Static credentials.
	AccessToken    string `env:"ACCESS_TOKEN"`
	OrganizationID string `env:"ORGANIZATION_ID"`

	// Client-credentials grant; a Keycloak realm when KEYCLOAK_REALM is set.
	TokenURL         string `env:"TOKEN_URL"`
	ClientID         string `env:"CLIENT_ID"`
	ClientSecret     string `env:"CLIENT_SECRET"`
	KeycloakBaseURL  string `env:"KEYCLOAK_BASE_URL"`
	KeycloakRealm    string `env:"KEYCLOAK_REALM"`
	KeycloakTenantID string `env:"KEYCLOAK_TENANT_ID"`
	SharedTokens     bool   `env:"SHARED_TOKENS"       envDefault:"true"`

	ProbeTargets     string        `env:"PROBE_TARGETS"`
	ProbeTargetsFile string        `env:"PROBE_TARGETS_FILE"`
	ProbeInterval    time.Duration `env:"PROBE_INTERVAL"      envDefault:"30s"`
	ProbeTimeout     time.Duration `env:"PROBE_TIMEOUT"       envDefault:"10s"`
	ProbeWorkers     int           `env:"PROBE_WORKERS"       envDefault:"1"`
	ProbeParallelism int           `env:"PROBE_PARALLELISM"   envDefault:"4"`
	FetchRateLimit   int           `env:"FETCH_RATE_LIMIT"    envDefault:"0"`
	FetchRateWindow  time.Duration `env:"FETCH_RATE_WINDOW"   envDefault:"1s"`

	StreamTopic       string        `env:"AUDIT_STREAM_TOPIC"       envDefault:"audit.calls"`
	StreamMaxEntries  int64         `env:"AUDIT_STREAM_MAX_ENTRIES" envDefault:"100000"`
	ConsumerGroup     string        `env:"AUDIT_CONSUMER_GROUP"     envDefault:"auditstore"`
	ConsumerRetries   int           `env:"AUDIT_CONSUMER_RETRIES"   envDefault:"3"`
	ConsumerRetryWait time.Duration `env:"AUDIT_CONSUMER_RETRY_WAIT" envDefault:"1s"`

	PostgresURL             string        `env:"POSTGRES_URL"`
	PostgresMaxConnection   int32         `env:"POSTGRES_MAX_CONNECTION"    envDefault:"10"`
	PostgresMinConnection   int32         `env:"POSTGRES_MIN_CONNECTION"    envDefault:"1"`
	PostgresMaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	PostgresLogLevel        string        `env:"POSTGRES_LOG_LEVEL"         envDefault:"warn"`
	MigrationEnabled        bool          `env:"MIGRATION_ENABLED"          envDefault:"true"`

	Redis goredis.Config
}

func (c *Agent) Validate() error {
	if c.Fetch.DefaultBaseURL() == "" && c.Fetch.Origin == "" {
		return ErrMissingBaseURL
	}

	if c.ProbeTargets == "" && c.ProbeTargetsFile == "" {
		return ErrMissingTargets
	}

	if c.PostgresURL == "" {
		return ErrMissingPostgres
	}

	if (c.ClientID == "") != (c.ClientSecret == "") {
		return ErrPartialClientKey
	}

	if c.UsesClientCredentials() && c.TokenURL == "" && !c.UsesKeycloak() {
		return ErrMissingTokenURL
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("config: redis: %w", err)
	}

	return nil
}

// TargetsJSON returns the probe target list, reading PROBE_TARGETS_FILE when
// PROBE_TARGETS is empty.
func (c *Agent) TargetsJSON() ([]byte, error) {
	if strings.TrimSpace(c.ProbeTargets) != "" {
		return []byte(c.ProbeTargets), nil
	}

	raw, err := os.ReadFile(c.ProbeTargetsFile)
	if err != nil {
		return nil, fmt.Errorf("config: read probe targets: %w", err)
	}

	return raw, nil
}

func (c *Agent) UsesClientCredentials() bool {
	return c.ClientID != ""
}

func (c *Agent) UsesKeycloak() bool {
	return c.KeycloakBaseURL != "" && c.KeycloakRealm != ""
}

func LoadStub() (*Stub, error) {
	var cfg Stub

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func LoadAgent() (*Agent, error) {
	var cfg Agent

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
