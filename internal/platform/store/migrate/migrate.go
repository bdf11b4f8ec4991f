// Package migrate applies the embedded control-table schema with golang-migrate
package migrate

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"clinicaletl/internal/platform/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Status is the schema version as golang-migrate sees it
type Status struct {
	Version uint
	Dirty   bool
	Applied bool
}

// Up applies every pending migration. No pending work is not an error
func Up(dsn string) (Status, error) {
	return run(dsn, func(m *migrate.Migrate) error { return m.Up() })
}

// Down rolls back n migrations (all when n <= 0)
func Down(dsn string, n int) (Status, error) {
	return run(dsn, func(m *migrate.Migrate) error {
		if n <= 0 {
			return m.Down()
		}
		return m.Steps(-n)
	})
}

// Version reports the current schema version without changing it
func Version(dsn string) (Status, error) {
	return run(dsn, func(*migrate.Migrate) error { return nil })
}

func run(dsn string, fn func(*migrate.Migrate) error) (Status, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return Status{}, fmt.Errorf("migrate: source: %w", err)
	}
	target, err := DriverURL(dsn)
	if err != nil {
		return Status{}, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return Status{}, fmt.Errorf("migrate: init: %w", err)
	}
	m.Log = zlog{}
	defer func() { _, _ = m.Close() }()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Status{}, fmt.Errorf("migrate: %w", err)
	}

	v, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return Status{}, nil
	case err != nil:
		return Status{}, fmt.Errorf("migrate: version: %w", err)
	}
	return Status{Version: v, Dirty: dirty, Applied: true}, nil
}

// DriverURL rewrites a postgres DSN to the pgx5 scheme golang-migrate expects
func DriverURL(dsn string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil || u.Scheme == "" {
		return "", fmt.Errorf("migrate: bad dsn")
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("migrate: unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

// zlog adapts zerolog to migrate.Logger
type zlog struct{}

func (zlog) Printf(format string, v ...any) {
	logger.Named("migrate").Info().Msgf(strings.TrimSpace(format), v...)
}

func (zlog) Verbose() bool { return false }
