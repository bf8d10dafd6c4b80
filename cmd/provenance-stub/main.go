// Command provenance-stub serves a reference backend that honors the
// request-id provenance contract.
package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/goredis"
	"github.com/reconai/auditkit/httpserver"
	"github.com/reconai/auditkit/internal/config"
	"github.com/reconai/auditkit/internal/stub"
	"github.com/reconai/auditkit/jwks"
	"github.com/reconai/auditkit/logutil"
	"github.com/reconai/auditkit/metricserver"
	"github.com/reconai/auditkit/middleware"
	"github.com/reconai/auditkit/ratelimit"
	"github.com/reconai/auditkit/runner"
)

const metricsNamespace = "provenance_stub"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application exited with an error")
	}

	log.Info().Msg("Application shutdown complete")
}

func run() error {
	cfg, err := config.LoadStub()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logutil.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	app := &application{
		cfg:      cfg,
		registry: registry,
		svc:      stub.New(stub.NewStore()),
		redis:    nil,
	}

	v1Middleware, err := app.v1Middleware(ctx)
	if err != nil {
		return err
	}

	metricOpts := []metricserver.Option{metricserver.WithGatherer(registry)}
	opts := []runner.Option{
		runner.WithShutdownTimeout(cfg.GracefulShutdownPeriod),
		runner.WithSignals(os.Interrupt, syscall.SIGTERM),
	}

	if app.redis != nil {
		opts = append(opts, runner.WithInfrastructureService(app.redis))
		metricOpts = append(metricOpts, metricserver.WithHealthCheck(app.redis.Name(), app.redis.HealthCheck))
	}

	opts = append(opts,
		runner.WithCoreService(app.newMetricServer(metricOpts...)),
		runner.WithCoreService(app.newHTTPServer(v1Middleware...)),
	)

	return runner.New(opts...).Run(ctx) //nolint:wrapcheck
}

type application struct {
	cfg      *config.Stub
	registry *prometheus.Registry
	svc      *stub.Service
	redis    *goredis.Redis
}

func (app *application) newHTTPServer(v1Middleware ...echo.MiddlewareFunc) *httpserver.Server {
	httpCfg := &httpserver.Config{
		Host:            app.cfg.HTTPServerHost,
		Port:            app.cfg.HTTPServerPort,
		EnableCors:      app.cfg.HTTPEnableCORS,
		AllowOrigins:    app.cfg.HTTPAllowOrigins,
		BodyLimit:       app.cfg.HTTPBodyLimit,
		ReadTimeout:     app.cfg.HTTPServerReadTimeout,
		WriteTimeout:    app.cfg.HTTPServerWriteTimeout,
		GracePeriod:     app.cfg.GracefulShutdownPeriod,
		StrictRequestID: app.cfg.HTTPStrictRequestID,
	}

	svr := httpserver.New(httpCfg, httpserver.WithMetrics(app.registry, metricsNamespace))
	app.svc.Register(svr.Root, v1Middleware...)

	return svr
}

func (app *application) newMetricServer(opts ...metricserver.Option) *metricserver.Server {
	metricCfg := &metricserver.Config{
		Host:         app.cfg.MetricServerHost,
		Port:         app.cfg.MetricServerPort,
		ReadTimeout:  app.cfg.MetricServerReadTimeout,
		WriteTimeout: app.cfg.MetricServerWriteTimeout,
		GracePeriod:  app.cfg.GracefulShutdownPeriod,
	}

	return metricserver.New(metricCfg, opts...)
}

// v1Middleware builds the optional auth and rate limiting chain. Auth runs
// first so the limiter can key on the caller's organization.
func (app *application) v1Middleware(ctx context.Context) ([]echo.MiddlewareFunc, error) {
	var chain []echo.MiddlewareFunc

	if app.cfg.AuthEnabled() {
		verifier, err := initVerifier(ctx, app.cfg)
		if err != nil {
			return nil, err
		}

		chain = append(chain, middleware.JWT(verifier.Keyfunc.Keyfunc))
	}

	if app.cfg.RateLimitEnabled() {
		limiter, err := app.initLimiter()
		if err != nil {
			return nil, err
		}

		instrumented := ratelimit.Instrument(limiter, "http", ratelimit.NewMetrics(app.registry, metricsNamespace))
		chain = append(chain, middleware.RateLimit(instrumented))
	}

	return chain, nil
}

func initVerifier(ctx context.Context, cfg *config.Stub) (*jwks.Verifier, error) {
	var opts []jwks.Option

	if cfg.JWTIssuer != "" {
		opts = append(opts, jwks.WithIssuer(cfg.JWTIssuer))
	}

	if cfg.JWTAudience != "" {
		opts = append(opts, jwks.WithAudience(cfg.JWTAudience))
	}

	verifier, err := jwks.New(ctx, cfg.JWKSURLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jwks: %w", err)
	}

	return verifier, nil
}

//nolint:ireturn
func (app *application) initLimiter() (ratelimit.Limiter, error) {
	if app.cfg.RateLimitBackend != config.LimiterRedis {
		limiter, err := ratelimit.NewLocal(app.cfg.RateLimit, app.cfg.RateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}

		return limiter, nil
	}

	rds, err := goredis.New(&app.cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	log.Info().Msg("Redis client initialized successfully")

	app.redis = rds

	limiter, err := ratelimit.NewRedis(rds.Client, app.cfg.RateLimit, app.cfg.RateLimitWindow,
		ratelimit.WithPrefix(metricsNamespace+":ratelimit:"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}

	return limiter, nil
}
