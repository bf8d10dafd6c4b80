package metricserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reconai/auditkit/metricserver"
)

var errDown = errors.New("connection refused")

func newServer(opts ...metricserver.Option) *metricserver.Server {
	//nolint:exhaustruct
	return metricserver.New(&metricserver.Config{Host: "127.0.0.1", Port: 0}, opts...)
}

func get(t *testing.T, srv *metricserver.Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestServer_StatusHealthy(t *testing.T) {
	t.Parallel()

	srv := newServer(metricserver.WithHealthCheck("redis", func(context.Context) error { return nil }))

	rec := get(t, srv, metricserver.StatusPath)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"redis": "ok"}, body["checks"])
}

func TestServer_StatusDegraded(t *testing.T) {
	t.Parallel()

	srv := newServer(
		metricserver.WithHealthCheck("redis", func(context.Context) error { return nil }),
		metricserver.WithHealthCheck("postgres", func(context.Context) error { return errDown }),
	)

	rec := get(t, srv, metricserver.StatusPath)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_MetricsFromRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{ //nolint:exhaustruct
		Name: "auditkit_probe_rounds_total",
		Help: "Probe rounds.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	rec := get(t, newServer(metricserver.WithGatherer(reg)), metricserver.MetricsPath)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auditkit_probe_rounds_total 1")
}

func TestServer_StopBeforeStart(t *testing.T) {
	t.Parallel()

	srv := newServer()

	require.ErrorIs(t, srv.Stop(), metricserver.ErrNotRunning)
	assert.Equal(t, "metrics", srv.Name())
}
