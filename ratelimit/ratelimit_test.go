package ratelimit_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/reconai/auditkit/auditfetch"
	"github.com/reconai/auditkit/ratelimit"
	kittest "github.com/reconai/auditkit/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time {
	return c.now
}

func TestLocal_AllowsBurstThenRejects(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Unix(1_700_000_000, 0)}

	limiter, err := ratelimit.NewLocal(3, time.Second, ratelimit.WithLocalClock(clk.Now))
	require.NoError(t, err)

	for i := range 3 {
		decision, err := limiter.Allow(t.Context(), "api.reconai.test")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i)
		assert.Equal(t, 3, decision.Limit)
		assert.Equal(t, 2-i, decision.Remaining)
	}

	decision, err := limiter.Allow(t.Context(), "api.reconai.test")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Positive(t, decision.ResetAfter)

	other, err := limiter.Allow(t.Context(), "other.reconai.test")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clk.now = clk.now.Add(time.Second)

	decision, err = limiter.Allow(t.Context(), "api.reconai.test")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestLocal_DropsIdleKeys(t *testing.T) {
	t.Parallel()

	clk := &clock{now: time.Unix(1_700_000_000, 0)}

	limiter, err := ratelimit.NewLocal(5, time.Second,
		ratelimit.WithLocalClock(clk.Now), ratelimit.WithIdleTTL(time.Minute))
	require.NoError(t, err)

	_, _ = limiter.Allow(t.Context(), "a")
	_, _ = limiter.Allow(t.Context(), "b")
	assert.Equal(t, 2, limiter.Len())

	clk.now = clk.now.Add(2 * time.Minute)

	_, _ = limiter.Allow(t.Context(), "c")
	assert.Equal(t, 1, limiter.Len())
}

func TestNewLocal_RejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := ratelimit.NewLocal(0, time.Second)
	require.ErrorIs(t, err, ratelimit.ErrInvalidLimit)

	_, err = ratelimit.NewLocal(1, 0)
	require.ErrorIs(t, err, ratelimit.ErrInvalidWindow)
}

func TestRedis_FixedWindow(t *testing.T) {
	t.Parallel()

	mr, client := kittest.NewMiniRedis(t)

	limiter, err := ratelimit.NewRedis(client, 2, time.Minute, ratelimit.WithPrefix("test:rl"))
	require.NoError(t, err)

	first, err := limiter.Allow(t.Context(), "host")
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)
	assert.Equal(t, time.Minute, first.ResetAfter)

	second, err := limiter.Allow(t.Context(), "host")
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := limiter.Allow(t.Context(), "host")
	require.NoError(t, err)
	assert.False(t, third.Allowed)

	assert.True(t, mr.Exists("test:rl:host"))

	mr.FastForward(time.Minute)

	fresh, err := limiter.Allow(t.Context(), "host")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestRedis_PrefixTrailingColon(t *testing.T) {
	t.Parallel()

	mr, client := kittest.NewMiniRedis(t)

	limiter, err := ratelimit.NewRedis(client, 1, time.Minute, ratelimit.WithPrefix("agent:ratelimit:"))
	require.NoError(t, err)

	_, err = limiter.Allow(t.Context(), "api.reconai.test")
	require.NoError(t, err)

	assert.Equal(t, []string{"agent:ratelimit:api.reconai.test"}, mr.Keys())
}

func TestRedis_SharedAcrossInstances(t *testing.T) {
	t.Parallel()

	_, client := kittest.NewMiniRedis(t)

	a, err := ratelimit.NewRedis(client, 1, time.Minute)
	require.NoError(t, err)
	b, err := ratelimit.NewRedis(client, 1, time.Minute)
	require.NoError(t, err)

	decision, err := a.Allow(t.Context(), "k")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = b.Allow(t.Context(), "k")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestRedis_ReportsOutage(t *testing.T) {
	t.Parallel()

	mr, client := kittest.NewMiniRedis(t)

	limiter, err := ratelimit.NewRedis(client, 1, time.Minute)
	require.NoError(t, err)

	mr.Close()

	_, err = limiter.Allow(t.Context(), "k")
	require.Error(t, err)
}

func TestNewRedis_Validates(t *testing.T) {
	t.Parallel()

	_, err := ratelimit.NewRedis(nil, 1, time.Second)
	require.ErrorIs(t, err, ratelimit.ErrNilRedisClient)
}

func TestGate_BlocksAuditedCallsBeforeDispatch(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	limiter, err := ratelimit.NewLocal(1, time.Hour)
	require.NoError(t, err)

	client := auditfetch.New(server.URL, auditfetch.WithLimiter(ratelimit.Gate(limiter)))

	_, err = client.Fetch(t.Context(), "/ping")
	require.NoError(t, err)

	_, err = client.Fetch(t.Context(), "/ping")
	require.ErrorIs(t, err, auditfetch.ErrRateLimited)

	assert.Equal(t, int32(1), hits.Load())
}

func TestGate_PropagatesLimiterError(t *testing.T) {
	t.Parallel()

	errDown := errors.New("down")
	gate := ratelimit.Gate(ratelimit.LimiterFunc(func(context.Context, string) (ratelimit.Decision, error) {
		return ratelimit.Decision{}, errDown
	}))

	allowed, err := gate.Allow(t.Context(), "k")

	require.ErrorIs(t, err, errDown)
	assert.False(t, allowed)
}

func TestInstrument_CountsDecisions(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := ratelimit.NewMetrics(reg, "auditkit")

	local, err := ratelimit.NewLocal(1, time.Hour)
	require.NoError(t, err)

	limiter := ratelimit.Instrument(local, "outbound", metrics)

	_, _ = limiter.Allow(t.Context(), "k")
	_, _ = limiter.Allow(t.Context(), "k")

	count, err := testutil.GatherAndCount(reg, "auditkit_ratelimit_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Same(t, local, ratelimit.Instrument(local, "x", nil))
}
