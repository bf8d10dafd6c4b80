// Package ratelimit provides keyed request budgets, in process or shared
// through Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/reconai/auditkit/auditfetch"
)

var (
	ErrInvalidLimit    = errors.New("ratelimit: limit must be positive")
	ErrInvalidWindow   = errors.New("ratelimit: window must be positive")
	ErrNilRedisClient  = errors.New("ratelimit: redis client is nil")
	ErrUnexpectedReply = errors.New("ratelimit: unexpected script reply")
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

type LimiterFunc func(ctx context.Context, key string) (Decision, error)

func (f LimiterFunc) Allow(ctx context.Context, key string) (Decision, error) {
	return f(ctx, key)
}

type gate struct {
	limiter Limiter
}

// Gate adapts a Limiter to the outbound gate of an auditfetch.Client.
func Gate(limiter Limiter) auditfetch.Limiter { //nolint:ireturn
	return gate{limiter: limiter}
}

func (g gate) Allow(ctx context.Context, key string) (bool, error) {
	decision, err := g.limiter.Allow(ctx, key)
	if err != nil {
		return false, err
	}

	return decision.Allowed, nil
}

type Metrics struct {
	decisions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{ //nolint:exhaustruct
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions by limiter and result.",
		}, []string{"limiter", "result"}),
	}
}

type instrumented struct {
	name    string
	limiter Limiter
	metrics *Metrics
}

// Instrument counts every decision of limiter under name.
func Instrument(limiter Limiter, name string, metrics *Metrics) Limiter { //nolint:ireturn
	if metrics == nil {
		return limiter
	}

	return instrumented{name: name, limiter: limiter, metrics: metrics}
}

func (i instrumented) Allow(ctx context.Context, key string) (Decision, error) {
	decision, err := i.limiter.Allow(ctx, key)

	result := "allowed"

	switch {
	case err != nil:
		result = "error"
	case !decision.Allowed:
		result = "rejected"
	}

	i.metrics.decisions.WithLabelValues(i.name, result).Inc()

	return decision, err
}
