package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	postgres_migrate "github.com/golang-migrate/migrate/v4/database/postgres"
	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var sqlSchemas embed.FS

// migrationLogger adapts the package logger to the migrate logger.
type migrationLogger struct{}

// Printf logs a migration message.
func (migrationLogger) Printf(format string, v ...interface{}) {
	log.Infof(format, v...)
}

// Verbose reports whether verbose migration logging is enabled.
func (migrationLogger) Verbose() bool {
	return false
}

// applyMigrations brings the schema of db up to date.
func applyMigrations(db *sql.DB, backend BackendType) error {
	var (
		driver database.Driver
		err    error
	)
	switch backend {
	case BackendTypeSqlite:
		driver, err = sqlite_migrate.WithInstance(
			db, &sqlite_migrate.Config{},
		)

	case BackendTypePostgres:
		driver, err = postgres_migrate.WithInstance(
			db, &postgres_migrate.Config{},
		)

	default:
		return fmt.Errorf("%w: unsupported backend %v",
			ErrInvalidConfig, backend)
	}
	if err != nil {
		return fmt.Errorf("unable to create migration driver: %w", err)
	}

	source, err := iofs.New(sqlSchemas, "migrations")
	if err != nil {
		return fmt.Errorf("unable to read migrations: %w", err)
	}

	m, err := migrate.NewWithInstance(
		"iofs", source, backend.String(), driver,
	)
	if err != nil {
		return fmt.Errorf("unable to create migrator: %w", err)
	}
	m.Log = migrationLogger{}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debugf("Database schema up to date")
		return nil

	case err != nil:
		return fmt.Errorf("unable to apply migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return err
	}
	log.Infof("Database schema migrated to version %d", version)

	return nil
}
