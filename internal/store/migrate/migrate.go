// Package migrate applies the module's numbered, monotonic schema
// migrations to the relational backend.
//
// Grounded on r3e-network-service_layer's golang-migrate usage (embedded
// SQL files, iofs source, database instance wrapping an open *sql.DB).
package migrate

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/strataga/demiarch-sub000/internal/demerr"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationsTable records which numbered migrations have been applied, so
// reruns are no-ops.
const migrationsTable = "_migrations"

// Up applies every pending migration to db, in order. Calling it against
// an already-migrated database is a no-op.
func Up(db *sql.DB, log zerolog.Logger) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return demerr.Wrap(demerr.Storage, "migrate.Up", "open embedded migrations", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return demerr.Wrap(demerr.Storage, "migrate.Up", "wrap database for migration", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return demerr.Wrap(demerr.Storage, "migrate.Up", "build migrator", err)
	}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug().Msg("schema is current, no migrations applied")
			return nil
		}
		return demerr.Wrap(demerr.Storage, "migrate.Up", "apply migrations", err)
	}
	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema migrated")
	return nil
}
