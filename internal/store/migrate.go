package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/matheus3301/chatsync/internal/store/migrations"
)

// MigrateResult describes what happened during migration.
type MigrateResult struct {
	Version uint
	Changed bool
	// Repaired is set when a dirty version was forced back and reapplied.
	Repaired bool
}

// Migrate brings the schema up to date. Every migration is idempotent, so a
// version left dirty by an interrupted run is forced back one step and
// applied again.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	result := &MigrateResult{}
	if v, dirty, err := m.Version(); err == nil && dirty {
		// Force(-1) clears the version table when the first step is dirty.
		if err := m.Force(int(v) - 1); err != nil {
			return nil, fmt.Errorf("migration force: %w", err)
		}
		result.Repaired = true
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
	case err != nil:
		return nil, fmt.Errorf("migration up: %w", err)
	default:
		result.Changed = true
	}

	version, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	result.Version = version
	return result, nil
}
