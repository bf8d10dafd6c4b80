package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const defaultHealthCheckTimeout = 5 * time.Second

var ErrPoolStatsUnavailable = errors.New("postgres: pool stats unavailable")

type HealthCheckOptions struct {
	Timeout  time.Duration
	QuerySQL string
}

type HealthCheckOption func(*HealthCheckOptions)

func WithHealthCheckTimeout(timeout time.Duration) HealthCheckOption {
	return func(opts *HealthCheckOptions) {
		opts.Timeout = timeout
	}
}

// WithHealthCheckQuery additionally runs sql, which must return one integer.
func WithHealthCheckQuery(sql string) HealthCheckOption {
	return func(opts *HealthCheckOptions) {
		opts.QuerySQL = sql
	}
}

func (p *Postgres) HealthCheck(ctx context.Context, opts ...HealthCheckOption) error {
	if p.DBPool == nil {
		return ErrConnectionPoolNil
	}

	options := &HealthCheckOptions{
		Timeout:  defaultHealthCheckTimeout,
		QuerySQL: "",
	}

	for _, opt := range opts {
		opt(options)
	}

	healthCtx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	if err := p.DBPool.Ping(healthCtx); err != nil {
		return fmt.Errorf("postgres health check ping failed: %w", err)
	}

	if options.QuerySQL != "" {
		var result int
		if err := p.DBPool.QueryRow(healthCtx, options.QuerySQL).Scan(&result); err != nil {
			return fmt.Errorf("postgres health check query failed: %w", err)
		}
	}

	return nil
}

type PoolStats struct {
	AcquiredConns int32
	IdleConns     int32
	MaxConns      int32
	TotalConns    int32
	AcquireCount  int64
}

func (p *Postgres) Stats() (*PoolStats, error) {
	if p.pool == nil {
		return nil, ErrPoolStatsUnavailable
	}

	stats := p.pool.Stat()

	return &PoolStats{
		AcquiredConns: stats.AcquiredConns(),
		IdleConns:     stats.IdleConns(),
		MaxConns:      stats.MaxConns(),
		TotalConns:    stats.TotalConns(),
		AcquireCount:  stats.AcquireCount(),
	}, nil
}
