// Package database abstracts the sync-record store over SQLite and PostgreSQL.
// Driver packages register themselves on import.
package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Driver names a database backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

func (d Driver) String() string { return string(d) }

// ParseDriver resolves a configured driver name. "auto" or empty picks SQLite
// for an empty URL and PostgreSQL for a postgres:// URL.
func ParseDriver(name, url string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pgx":
		return DriverPostgres, nil
	case "", "auto":
	default:
		return "", errors.Newf("unsupported database driver: %s", name)
	}

	switch {
	case url == "":
		return DriverSQLite, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres, nil
	case strings.HasPrefix(url, "file:"), strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"):
		return DriverSQLite, nil
	}
	return "", errors.Newf("cannot infer database driver from %q", redactURL(url))
}

// Config holds database configuration.
type Config struct {
	Driver Driver
	// URL is the PostgreSQL connection string.
	URL string
	// SQLitePath defaults to ~/.fieldsync/data.db.
	SQLitePath string
	// MaxConns caps the PostgreSQL pool.
	MaxConns int
}

// Opener creates a connection for one driver.
type Opener func(ctx context.Context, cfg Config) (Connection, error)

var (
	openersMu sync.RWMutex
	openers   = map[Driver]Opener{}
)

// Register makes a driver available to NewConnection.
func Register(driver Driver, open Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[driver] = open
}

// NewConnection opens a connection with the registered driver.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" {
		var err error
		if driver, err = ParseDriver("auto", cfg.URL); err != nil {
			return nil, err
		}
	}

	openersMu.RLock()
	open, ok := openers[driver]
	openersMu.RUnlock()
	if !ok {
		return nil, errors.Newf("database driver %s not registered", driver)
	}
	return open(ctx, cfg)
}

// DefaultSQLitePath returns the default SQLite database path.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".fieldsync", "data.db")
}

func redactURL(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 && scheme < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
