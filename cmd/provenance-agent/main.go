// Command provenance-agent probes configured endpoints on a schedule, checks
// every response against the request-id provenance contract and persists the
// outcome.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/auditlog"
	"github.com/reconai/auditkit/auditstore"
	"github.com/reconai/auditkit/auditstream"
	"github.com/reconai/auditkit/goredis"
	"github.com/reconai/auditkit/internal/config"
	"github.com/reconai/auditkit/logutil"
	"github.com/reconai/auditkit/metricserver"
	"github.com/reconai/auditkit/postgres"
	"github.com/reconai/auditkit/probe"
	"github.com/reconai/auditkit/ratelimit"
	"github.com/reconai/auditkit/runner"
	"github.com/reconai/auditkit/workerpool"
)

const metricsNamespace = "provenance_agent"

var errConsumerUnhealthy = errors.New("audit stream consumer is not healthy")

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application exited with an error")
	}

	log.Info().Msg("Application shutdown complete")
}

func run() error {
	cfg, err := config.LoadAgent()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logutil.Setup(cfg.LogLevel, cfg.LogPretty)

	ctx := context.Background()

	rawTargets, err := cfg.TargetsJSON()
	if err != nil {
		return err //nolint:wrapcheck
	}

	targets, err := probe.ParseTargets(rawTargets)
	if err != nil {
		return fmt.Errorf("failed to load probe targets: %w", err)
	}

	db, err := initPostgres(ctx, cfg)
	if err != nil {
		return err
	}

	rds, err := goredis.New(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	log.Info().Msg("Redis client initialized successfully")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), //nolint:exhaustruct
	)

	app := &application{
		cfg:      cfg,
		registry: registry,
		db:       db,
		redis:    rds,
		store:    auditstore.New(db),
	}

	publisher, err := auditstream.NewPublisher(rds.Client, auditstream.PublisherOptions{
		Topic:            cfg.StreamTopic,
		MaxStreamEntries: cfg.StreamMaxEntries,
		Timeout:          0,
		Logger:           nil,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit stream publisher: %w", err)
	}

	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close audit stream publisher")
		}
	}()

	consumer, err := app.newConsumer()
	if err != nil {
		return err
	}

	pool, err := app.newProbePool(targets, publisher)
	if err != nil {
		return err
	}

	appRunner := runner.New(
		runner.WithShutdownTimeout(cfg.GracefulShutdownPeriod),
		runner.WithSignals(os.Interrupt, syscall.SIGTERM),
		runner.WithInfrastructureService(db),
		runner.WithInfrastructureService(rds),
		runner.WithCoreService(app.newMetricServer(consumer)),
		runner.WithCoreService(consumer),
		runner.WithCoreService(pool),
	)

	return appRunner.Run(ctx) //nolint:wrapcheck
}

type application struct {
	cfg      *config.Agent
	registry *prometheus.Registry
	db       *postgres.Postgres
	redis    *goredis.Redis
	store    *auditstore.Store
}

func initPostgres(ctx context.Context, cfg *config.Agent) (*postgres.Postgres, error) {
	if cfg.MigrationEnabled {
		log.Info().Msg("Starting database migration process...")

		if err := auditstore.Migrate(ctx, cfg.PostgresURL); err != nil {
			return nil, fmt.Errorf("postgresql migration failed: %w", err)
		}

		log.Info().Msg("Database migration process completed successfully")
	}

	db, err := postgres.New(ctx, &postgres.Config{
		URL:                   cfg.PostgresURL,
		MaxConnection:         cfg.PostgresMaxConnection,
		MinConnection:         cfg.PostgresMinConnection,
		MaxConnectionIdleTime: cfg.PostgresMaxConnIdleTime,
		LogLevel:              logutil.ParsePostgresLogLevel(cfg.PostgresLogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	log.Info().Msg("PostgreSQL client initialized successfully")

	return db, nil
}

// newConsumer persists every published call record into the audit store.
func (app *application) newConsumer() (*auditstream.Consumer, error) {
	consumer, err := auditstream.NewConsumer(
		app.redis.Client,
		app.cfg.ConsumerGroup,
		app.store.SaveCall,
		auditstream.WithTopic(app.cfg.StreamTopic),
		auditstream.WithRetry(app.cfg.ConsumerRetries, app.cfg.ConsumerRetryWait, app.cfg.StreamTopic+".dlq"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit stream consumer: %w", err)
	}

	return consumer, nil
}

func (app *application) newProbePool(targets []probe.Target, publisher *auditstream.Publisher) (*workerpool.WorkerPool, error) {
	client, err := app.newClient(publisher)
	if err != nil {
		return nil, err
	}

	probeRunner, err := probe.NewRunner(client, targets,
		probe.WithStore(app.store),
		probe.WithMetrics(probe.NewMetrics(app.registry, metricsNamespace)),
		probe.WithParallelism(app.cfg.ProbeParallelism),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize probe runner: %w", err)
	}

	log.Info().
		Int("targets", len(targets)).
		Dur("interval", app.cfg.ProbeInterval).
		Msg("Probe runner initialized")

	return workerpool.New(
		probeRunner,
		workerpool.WithName("probe"),
		workerpool.WithWorkerCount(app.cfg.ProbeWorkers),
		workerpool.WithTickInterval(app.cfg.ProbeInterval),
		workerpool.WithExecutionTimeout(app.cfg.ProbeTimeout),
		workerpool.WithImmediateStart(),
		workerpool.WithErrorHandler(func(err error) {
			log.Error().Err(err).Msg("Probe round failed")
		}),
	), nil
}

// newClient builds the audited client every probe goes through. Each call is
// logged, published to the audit stream and counted.
func (app *application) newClient(publisher *auditstream.Publisher) (*auditfetch.Client, error) {
	observer := auditfetch.MultiObserver(
		auditlog.New(auditlog.WithSuccessLevel(zerolog.DebugLevel)),
		publisher,
		auditfetch.NewMetricsObserver(app.registry, metricsNamespace),
	)

	opts := []auditfetch.Option{
		auditfetch.WithCredentials(newCredentials(app.cfg, app.redis)),
		auditfetch.WithObserver(observer),
	}

	if app.cfg.FetchRateLimit > 0 {
		limiter, err := ratelimit.NewRedis(app.redis.Client, app.cfg.FetchRateLimit, app.cfg.FetchRateWindow,
			ratelimit.WithPrefix(metricsNamespace+":ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
		}

		instrumented := ratelimit.Instrument(limiter, "fetch", ratelimit.NewMetrics(app.registry, metricsNamespace))
		opts = append(opts, auditfetch.WithLimiter(ratelimit.Gate(instrumented)))
	}

	return auditfetch.NewFromConfig(app.cfg.Fetch, opts...), nil
}

func (app *application) newMetricServer(consumer *auditstream.Consumer) *metricserver.Server {
	metricCfg := &metricserver.Config{
		Host:         app.cfg.MetricServerHost,
		Port:         app.cfg.MetricServerPort,
		ReadTimeout:  app.cfg.MetricServerReadTimeout,
		WriteTimeout: app.cfg.MetricServerWriteTimeout,
		GracePeriod:  app.cfg.GracefulShutdownPeriod,
	}

	return metricserver.New(
		metricCfg,
		metricserver.WithGatherer(app.registry),
		metricserver.WithHealthCheck(app.db.Name(), func(ctx context.Context) error {
			return app.db.HealthCheck(ctx)
		}),
		metricserver.WithHealthCheck(app.redis.Name(), app.redis.HealthCheck),
		metricserver.WithHealthCheck(consumer.Name(), func(context.Context) error {
			if !consumer.IsHealthy() {
				return errConsumerUnhealthy
			}

			return nil
		}),
	)
}
