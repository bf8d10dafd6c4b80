package testutil

import (
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/reconai/auditkit/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultPostgresUser              = "testuser"
	defaultPostgresPassword          = "testpass"
	defaultPostgresDatabase          = "testdb"
	defaultPostgresImage             = "postgres:18-alpine3.22"
	defaultPostgresPort     nat.Port = "5432"
)

const (
	startupTimeout    = 60 * time.Second
	startupOccurrence = 2
)

type PostgresTestContainer struct {
	Container testcontainers.Container
	User      string
	Password  string
	Host      string
	Database  string
	Port      nat.Port
}

func (c *PostgresTestContainer) ConnectionString() string {
	hostPort := net.JoinHostPort(c.Host, c.Port.Port())

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		c.User, c.Password, hostPort, c.Database)
}

// SetupPostgresContainer runs a disposable Postgres for the test. It is
// skipped in short mode.
func SetupPostgresContainer(t *testing.T) *PostgresTestContainer {
	t.Helper()

	SkipIfShort(t)

	ctx := t.Context()

	container, err := tcpostgres.Run(ctx,
		defaultPostgresImage,
		tcpostgres.WithDatabase(defaultPostgresDatabase),
		tcpostgres.WithUsername(defaultPostgresUser),
		tcpostgres.WithPassword(defaultPostgresPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(startupOccurrence).
				WithStartupTimeout(startupTimeout),
		),
	)

	t.Cleanup(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mappedPort, err := container.MappedPort(ctx, defaultPostgresPort)
	require.NoError(t, err)

	return &PostgresTestContainer{
		Container: container,
		User:      defaultPostgresUser,
		Password:  defaultPostgresPassword,
		Host:      host,
		Database:  defaultPostgresDatabase,
		Port:      mappedPort,
	}
}

// NewPostgres opens a pool against the container, closed on cleanup.
func NewPostgres(t *testing.T, container *PostgresTestContainer) *postgres.Postgres {
	t.Helper()

	db, err := postgres.New(t.Context(), &postgres.Config{
		URL:                   container.ConnectionString(),
		MaxConnection:         5,
		MinConnection:         1,
		MaxConnectionIdleTime: time.Minute,
		LogLevel:              tracelog.LogLevelWarn,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Stop()
	})

	return db
}

// TruncateTables empties tables between subtests sharing a container.
func TruncateTables(t *testing.T, db postgres.DBPool, tables ...string) {
	t.Helper()

	if len(tables) == 0 {
		return
	}

	_, err := db.Exec(t.Context(), "TRUNCATE TABLE "+strings.Join(tables, ", ")+" CASCADE")
	require.NoError(t, err)
}
