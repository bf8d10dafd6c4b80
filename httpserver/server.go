// Package httpserver is the echo server shared by the provenance backend:
// request ids on every response, enveloped JSON and graceful shutdown.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v5"
	echomiddleware "github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/validator"
)

const (
	kilobyte         = 1 << 10
	megabyte         = 1 << 20
	gigabyte         = 1 << 30
	defaultBodyLimit = 10 * megabyte
)

var ErrNotRunning = errors.New("httpserver: server is not running")

type Config struct {
	Host         string
	Port         int
	EnableCors   bool
	AllowOrigins []string
	BodyLimit    string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	GracePeriod  time.Duration
	// StrictRequestID rejects requests without X-Request-ID instead of
	// issuing one.
	StrictRequestID bool
}

type Server struct {
	address      string
	gracePeriod  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	Echo         *echo.Echo
	Root         *echo.Group

	mu         sync.Mutex
	httpServer *http.Server
}

type Option func(*serverOptions)

type serverOptions struct {
	registerer prometheus.Registerer
	subsystem  string
}

// WithMetrics records request counts and latencies on reg.
func WithMetrics(reg prometheus.Registerer, subsystem string) Option {
	return func(o *serverOptions) {
		o.registerer = reg
		o.subsystem = subsystem
	}
}

func New(cfg *Config, opts ...Option) *Server {
	options := serverOptions{registerer: nil, subsystem: ""}
	for _, opt := range opts {
		opt(&options)
	}

	e := echo.New()
	e.Validator = validator.New()
	e.HTTPErrorHandler = middleware.ErrorHandler(nil, &middleware.ErrorHandlerConfig{
		Logger:                &log.Logger,
		LogErrors:             true,
		IncludeInternalErrors: false,
	})

	requestID := middleware.DefaultRequestIDConfig()
	requestID.AutoGenerate = !cfg.StrictRequestID

	e.Pre(middleware.RequestIDWithConfig(requestID))
	e.Pre(middleware.RequestLogger(log.Logger, SafeLogFieldsExtractor))
	e.Pre(echomiddleware.BodyLimit(parseBodyLimit(cfg.BodyLimit)))
	e.Use(echomiddleware.Recover())

	if options.registerer != nil {
		//nolint:exhaustruct
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  options.subsystem,
			Registerer: options.registerer,
		}))
	}

	if cfg.EnableCors {
		e.Use(echomiddleware.CORS(cfg.AllowOrigins...))
	}

	return &Server{ //nolint:exhaustruct
		address:      net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		gracePeriod:  cfg.GracePeriod,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		Echo:         e,
		Root:         e.Group(""),
	}
}

func parseBodyLimit(limit string) int64 {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		return defaultBodyLimit
	}

	multiplier := int64(1)

	switch limit[len(limit)-1] {
	case 'K', 'k':
		multiplier = kilobyte
	case 'M', 'm':
		multiplier = megabyte
	case 'G', 'g':
		multiplier = gigabyte
	}

	if multiplier > 1 {
		limit = limit[:len(limit)-1]
	}

	size, err := strconv.ParseInt(limit, 10, 64)
	if err != nil || size <= 0 {
		return defaultBodyLimit
	}

	return size * multiplier
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{ //nolint:exhaustruct
		Addr:         s.address,
		Handler:      s.Echo,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	log.Info().Str("address", s.address).Msg("The HTTP server is being started")

	errCh := make(chan error, 1)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("httpserver: listen: %w", err)
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
		log.Error().Err(err).Msg("Failed to gracefully stop HTTP server")

		return fmt.Errorf("httpserver: shutdown: %w", err)
	}

	log.Info().Msg("The HTTP server shutdown has been completed successfully")

	return nil
}

func (s *Server) Name() string {
	return "http"
}

// SafeLogFieldsExtractor logs the bound request type, never its content.
func SafeLogFieldsExtractor(ctx *echo.Context) map[string]any {
	fields := map[string]any{"has_body": false}

	if req := ctx.Get(middleware.ContextKeyBody); req != nil {
		fields["has_body"] = true
		fields["body_type"] = fmt.Sprintf("%T", req)
	}

	if handler := middleware.GetHandler(ctx); handler != "" {
		fields["handler"] = handler
	}

	return fields
}
