package goredis_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/goredis"
)

func miniConfig(t *testing.T) (*miniredis.Miniredis, *goredis.Config) {
	t.Helper()

	server := miniredis.RunT(t)

	host, portStr, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	//nolint:exhaustruct
	return server, &goredis.Config{Host: host, Port: port}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  goredis.Config
		want error
	}{
		{name: "url wins", cfg: goredis.Config{URL: "redis://localhost:6379/0"}, want: nil},                       //nolint:exhaustruct
		{name: "missing host", cfg: goredis.Config{Port: 6379}, want: goredis.ErrMissingAddress},                  //nolint:exhaustruct
		{name: "bad port", cfg: goredis.Config{Host: "localhost", Port: 70000}, want: goredis.ErrInvalidPort},     //nolint:exhaustruct
		{name: "bad db", cfg: goredis.Config{Host: "localhost", Port: 6379, DB: -1}, want: goredis.ErrInvalidDB}, //nolint:exhaustruct
		{
			name: "bad pool",
			cfg:  goredis.Config{Host: "localhost", Port: 6379, PoolSize: -1}, //nolint:exhaustruct
			want: goredis.ErrInvalidPool,
		},
		{name: "ok", cfg: goredis.Config{Host: "localhost", Port: 6379}, want: nil}, //nolint:exhaustruct
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.want == nil {
				require.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	cfg := (&goredis.Config{Host: "localhost", Port: 6379, PoolSize: 42}).WithDefaults() //nolint:exhaustruct

	assert.Equal(t, 42, cfg.PoolSize)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 3*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestNew_RejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := goredis.New(nil)
	require.ErrorIs(t, err, goredis.ErrNilConfig)

	_, err = goredis.New(&goredis.Config{URL: "http://not-redis"}) //nolint:exhaustruct
	require.Error(t, err)
}

func TestNew_ParsesURL(t *testing.T) {
	t.Parallel()

	server := miniredis.RunT(t)

	rds, err := goredis.New(&goredis.Config{URL: "redis://" + server.Addr() + "/2"}) //nolint:exhaustruct
	require.NoError(t, err)

	t.Cleanup(func() { _ = rds.Stop() })

	assert.Equal(t, server.Addr(), rds.Options().Addr)
	assert.Equal(t, 2, rds.Options().DB)
	assert.Equal(t, 10, rds.Options().PoolSize)
}

func TestRedis_HealthCheck(t *testing.T) {
	t.Parallel()

	server, cfg := miniConfig(t)

	rds, err := goredis.New(cfg)
	require.NoError(t, err)

	require.NoError(t, rds.HealthCheck(t.Context()))

	server.Close()

	require.Error(t, rds.HealthCheck(t.Context()))
	require.NoError(t, rds.Stop())
}

func TestRedis_StartBlocksUntilCancelled(t *testing.T) {
	t.Parallel()

	_, cfg := miniConfig(t)

	rds, err := goredis.New(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = rds.Stop() })

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() { done <- rds.Start(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Start returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}

	assert.Equal(t, "redis", rds.Name())
}

func TestRedis_StartFailsWhenUnreachable(t *testing.T) {
	t.Parallel()

	server, cfg := miniConfig(t)
	server.Close()

	cfg.MaxRetries = -1

	rds, err := goredis.New(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = rds.Stop() })

	require.Error(t, rds.Start(t.Context()))
}
