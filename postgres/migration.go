package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver
	"github.com/rs/zerolog/log"
)

const (
	driverName        = "pgx"
	connectionTimeout = 10 * time.Second
)

type MigrationVersion struct {
	Version uint
	Dirty   bool
}

// Migrations is a directory of golang-migrate files inside an fs.FS,
// typically an embed.FS.
type Migrations struct {
	FS  fs.FS
	Dir string
}

func openAndPingDB(ctx context.Context, dbURI string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dbURI)
	if err != nil {
		return nil, fmt.Errorf("postgres: open %s connection: %w", driverName, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	if err = db.PingContext(pingCtx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	return db, nil
}

func withMigrator(ctx context.Context, dbURI string, migrations Migrations, fn func(*migrate.Migrate) error) error {
	db, err := openAndPingDB(ctx, dbURI)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("The database connection failed to close after migration")
		}
	}()

	source, err := iofs.New(migrations.FS, migrations.Dir)
	if err != nil {
		return fmt.Errorf("postgres: open migration source: %w", err)
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{}) //nolint:exhaustruct
	if err != nil {
		return fmt.Errorf("postgres: create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return fmt.Errorf("postgres: create migrator: %w", err)
	}

	runErr := fn(migrator)

	sourceErr, databaseErr := migrator.Close()

	return errors.Join(runErr, sourceErr, databaseErr)
}

// MigrateUp applies every pending migration.
func MigrateUp(ctx context.Context, dbURI string, migrations Migrations) error {
	return withMigrator(ctx, dbURI, migrations, func(migrator *migrate.Migrate) error {
		return logMigrationResult(migrator, migrator.Up(), "up")
	})
}

func MigrateDown(ctx context.Context, dbURI string, migrations Migrations) error {
	return withMigrator(ctx, dbURI, migrations, func(migrator *migrate.Migrate) error {
		return logMigrationResult(migrator, migrator.Down(), "down")
	})
}

func GetMigrationVersion(ctx context.Context, dbURI string, migrations Migrations) (*MigrationVersion, error) {
	var version MigrationVersion

	err := withMigrator(ctx, dbURI, migrations, func(migrator *migrate.Migrate) error {
		current, dirty, err := migrator.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("postgres: migration version: %w", err)
		}

		version = MigrationVersion{Version: current, Dirty: dirty}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &version, nil
}

func logMigrationResult(migrator *migrate.Migrate, err error, operation string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().
			Str("operation", operation).
			Msg("The database migration completed with no changes to apply")
	case err != nil:
		log.Error().
			Err(err).
			Str("operation", operation).
			Msg("The database migration has failed")

		return fmt.Errorf("postgres: migration %s: %w", operation, err)
	default:
		version, dirty, _ := migrator.Version()
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Str("operation", operation).
			Msg("The database migration has been completed successfully")
	}

	return nil
}
