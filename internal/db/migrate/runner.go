// Package migrate applies the embedded schema with golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/msplit/msplit/internal/db"
)

// Direction selects which way Run moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

var (
	// ErrNoDatabase is returned when no DSN is configured.
	ErrNoDatabase = errors.New("DATABASE_URL is not set")
	// ErrDirection is returned for anything other than up or down.
	ErrDirection = errors.New("direction must be up or down")
)

// Run applies every migration in dir. Being already at the target version
// is not an error.
func Run(dsn string, dir Direction) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return ErrNoDatabase
	}
	if dir != Up && dir != Down {
		return fmt.Errorf("%w, got %q", ErrDirection, dir)
	}

	source, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, driverURL(dsn))
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if dir == Up {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// driverURL rewrites a postgres:// DSN to the pgx5:// scheme the pgx driver
// registers under.
func driverURL(dsn string) string {
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "pgx5://" + strings.TrimPrefix(dsn, prefix)
		}
	}
	return dsn
}
