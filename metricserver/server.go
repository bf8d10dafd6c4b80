// Package metricserver exposes Prometheus metrics and dependency health on a
// separate listener from the API.
package metricserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	MetricsPath = "/metrics"
	StatusPath  = "/status"

	defaultCheckTimeout = 3 * time.Second
)

var ErrNotRunning = errors.New("metricserver: server is not running")

type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GracePeriod  time.Duration
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	address      string
	gracePeriod  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	checkTimeout time.Duration
	gatherer     prometheus.Gatherer
	checks       map[string]HealthCheck

	echo *echo.Echo

	mu         sync.Mutex
	httpServer *http.Server
}

type Option func(*Server)

// WithGatherer serves metrics from a registry other than the default one.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

func WithCheckTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.checkTimeout = timeout
		}
	}
}

func New(cfg *Config, opts ...Option) *Server {
	srv := &Server{ //nolint:exhaustruct
		address:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		gracePeriod:  cfg.GracePeriod,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		checkTimeout: defaultCheckTimeout,
		gatherer:     prometheus.DefaultGatherer,
		checks:       make(map[string]HealthCheck),
	}

	for _, opt := range opts {
		opt(srv)
	}

	e := echo.New()
	e.GET(StatusPath, srv.status)
	//nolint:exhaustruct
	e.GET(MetricsPath, echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: srv.gatherer}))

	srv.echo = e

	return srv
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) status(c *echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.checkTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}

	sort.Strings(names)

	res := statusResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			res.Checks[name] = err.Error()
			res.Status = "degraded"
			code = http.StatusServiceUnavailable

			continue
		}

		res.Checks[name] = "ok"
	}

	return c.JSON(code, res)
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{ //nolint:exhaustruct
		Addr:         s.address,
		Handler:      s.echo,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Info().Str("address", s.address).Msg("Starting metrics server")

	errCh := make(chan error, 1)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metricserver: listen: %w", err)
		}

		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return ErrNotRunning
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to gracefully shut down metrics server")

		return fmt.Errorf("metricserver: shutdown: %w", err)
	}

	log.Info().Msg("Metrics server shutdown complete")

	return nil
}

func (s *Server) Name() string {
	return "metrics"
}
