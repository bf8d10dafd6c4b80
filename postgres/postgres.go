// Package postgres owns the pgx connection pool used by the audit store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	pgxzerolog "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog/log"
)

var (
	ErrConnectionPoolNil = errors.New("postgres: connection pool is nil")
	ErrNilConfig         = errors.New("postgres: configuration must not be nil")
	ErrEmptyURL          = errors.New("postgres: url is required")
)

// DBPool is the subset of *pgxpool.Pool the store relies on. It satisfies
// pgxscan.Querier.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

var _ DBPool = (*pgxpool.Pool)(nil)

type Config struct {
	URL                   string
	MaxConnection         int32
	MinConnection         int32
	MaxConnectionIdleTime time.Duration
	LogLevel              tracelog.LogLevel
}

type Postgres struct {
	DBPool

	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *Config) (*Postgres, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}

	pgConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}

	tracerLogger := log.Logger.With().Str("component", "pgx_tracer").Logger()

	pgConfig.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   pgxzerolog.NewLogger(tracerLogger, pgxzerolog.WithoutPGXModule()),
		LogLevel: cfg.LogLevel,
		Config:   nil,
	}

	if cfg.MaxConnection > 0 {
		pgConfig.MaxConns = cfg.MaxConnection
	}

	if cfg.MinConnection > 0 {
		pgConfig.MinConns = cfg.MinConnection
	}

	if cfg.MaxConnectionIdleTime > 0 {
		pgConfig.MaxConnIdleTime = cfg.MaxConnectionIdleTime
	}

	// Confidence ratios are numeric columns scanned into decimal.Decimal.
	pgConfig.AfterConnect = func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())

		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	return &Postgres{DBPool: pool, pool: pool}, nil
}

// Start blocks until ctx is done; the pool itself needs no loop.
func (p *Postgres) Start(ctx context.Context) error {
	log.Info().Str("service_name", p.Name()).Msg("PostgreSQL pool operational, waiting for shutdown signal")

	<-ctx.Done()

	return nil
}

func (p *Postgres) Stop() error {
	if p.DBPool == nil {
		return ErrConnectionPoolNil
	}

	log.Info().Str("service_name", p.Name()).Msg("Closing PostgreSQL connection pool")
	p.DBPool.Close()
	log.Info().Str("service_name", p.Name()).Msg("PostgreSQL connection pool closed")

	return nil
}

func (p *Postgres) Name() string {
	return "postgres"
}
