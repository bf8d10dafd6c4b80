package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/docker/go-connections/nat"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultRedisImage = "valkey/valkey:8-alpine"
	defaultRedisPort  = "6379/tcp"
)

// NewMiniRedis starts an in-process Redis and a client bound to it. Both are
// closed when the test ends.
func NewMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)

	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return server, client
}

type RedisTestContainer struct {
	Container testcontainers.Container
	Host      string
	Port      nat.Port
}

func (c *RedisTestContainer) Address() string {
	return c.Host + ":" + c.Port.Port()
}

// Client returns a go-redis client for the container, closed on cleanup.
func (c *RedisTestContainer) Client(t *testing.T) *redis.Client {
	t.Helper()

	//nolint:exhaustruct
	client := redis.NewClient(&redis.Options{Addr: c.Address()})

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// SetupRedisContainer runs a real Valkey server for features miniredis does
// not cover, such as consumer-group stream claiming.
func SetupRedisContainer(t *testing.T) *RedisTestContainer {
	t.Helper()

	SkipIfShort(t)

	ctx := t.Context()

	//nolint:exhaustruct
	req := testcontainers.ContainerRequest{
		Image:        defaultRedisImage,
		ExposedPorts: []string{defaultRedisPort},
		WaitingFor:   wait.ForListeningPort(defaultRedisPort).WithStartupTimeout(startupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		ProviderType:     testcontainers.ProviderDocker,
		Logger:           &log.Logger,
		Reuse:            false,
	})

	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, defaultRedisPort)
	require.NoError(t, err)

	return &RedisTestContainer{
		Container: container,
		Host:      host,
		Port:      port,
	}
}
