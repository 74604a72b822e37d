package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // registers the "postgres" driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateStandalone applies the same embedded migrations as MigrateUp, but
// against a bare DSN with no *Client/*sql.DB of its own. It backs the
// cmd/stakingd -migrate-only path, for operators who want migrations run
// out-of-process ahead of a deploy rather than at service startup.
func MigrateStandalone(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: open embedded migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("store: init migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}
