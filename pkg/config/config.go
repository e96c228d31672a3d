// Package config loads fieldsync configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	// Embedded zone data keeps DEFAULT_TIMEZONE checks independent of the host.
	_ "time/tzdata"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Database drivers.
const (
	DriverAuto     = "auto"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	AppEnv   string
	LogLevel string

	FSMBaseURL            string
	FSMAPIKey             string
	FSMAPIKeyHeader       string
	FSMTimeout            time.Duration
	FSMRatePerSec         float64
	FSMBreakerEnabled     bool
	FSMBreakerFailures    int
	FSMBreakerOpenTimeout time.Duration
	// Teams whose name starts with this prefix never count as assigned crew.
	ReservedTeamPrefix string

	NameCacheTTL             time.Duration
	NameCacheRefreshInterval time.Duration

	// DefaultTimezone applies when a job's zone is missing or unknown.
	DefaultTimezone string

	DatabaseDriver string
	DatabaseURL    string
	SQLitePath     string
	LocalMode      bool

	RedisURL    string
	RabbitMQURL string

	WorkerHealthAddr       string
	SyncRecordRetention    time.Duration
	SyncRecordCleanupEvery time.Duration

	APIAddr      string
	MCPAddr      string
	MCPAuthToken string

	// Warnings lists variables that were set but could not be parsed; their
	// defaults were used instead.
	Warnings []string
}

// Load reads the environment, and a .env file when present, and validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()

	e := &env{}
	cfg := &Config{
		AppEnv:   e.str("APP_ENV", "development"),
		LogLevel: e.str("LOG_LEVEL", "info"),

		FSMBaseURL:            e.str("FSM_BASE_URL", "http://localhost:9000/api"),
		FSMAPIKey:             e.str("FSM_API_KEY", ""),
		FSMAPIKeyHeader:       e.str("FSM_API_KEY_HEADER", "x-api-key"),
		FSMTimeout:            read(e, "FSM_TIMEOUT", 30*time.Second, time.ParseDuration),
		FSMRatePerSec:         read(e, "FSM_RATE_PER_SEC", 5.0, parseFloat),
		FSMBreakerEnabled:     read(e, "FSM_BREAKER_ENABLED", true, strconv.ParseBool),
		FSMBreakerFailures:    read(e, "FSM_BREAKER_FAILURES", 5, strconv.Atoi),
		FSMBreakerOpenTimeout: read(e, "FSM_BREAKER_OPEN_TIMEOUT", 30*time.Second, time.ParseDuration),
		ReservedTeamPrefix:    e.str("FSM_RESERVED_TEAM_PREFIX", "Back Office"),

		NameCacheTTL:             read(e, "NAME_CACHE_TTL", 10*time.Minute, time.ParseDuration),
		NameCacheRefreshInterval: read(e, "NAME_CACHE_REFRESH_INTERVAL", 5*time.Minute, time.ParseDuration),

		DefaultTimezone: e.str("DEFAULT_TIMEZONE", "America/Denver"),

		DatabaseDriver: strings.ToLower(e.str("DATABASE_DRIVER", DriverAuto)),
		DatabaseURL:    e.str("DATABASE_URL", ""),
		SQLitePath:     e.str("SQLITE_PATH", defaultSQLitePath()),

		RedisURL:    e.str("REDIS_URL", ""),
		RabbitMQURL: e.str("RABBITMQ_URL", ""),

		WorkerHealthAddr:       e.str("WORKER_HEALTH_ADDR", "0.0.0.0:8081"),
		SyncRecordRetention:    read(e, "SYNC_RECORD_RETENTION", 30*24*time.Hour, time.ParseDuration),
		SyncRecordCleanupEvery: read(e, "SYNC_RECORD_CLEANUP_INTERVAL", 24*time.Hour, time.ParseDuration),

		APIAddr:      e.str("API_ADDR", "0.0.0.0:8080"),
		MCPAddr:      e.str("MCP_ADDR", "0.0.0.0:8082"),
		MCPAuthToken: e.str("MCP_AUTH_TOKEN", ""),
	}

	// Without a database URL everything stays on the local SQLite file.
	cfg.LocalMode = read(e, "FIELDSYNC_LOCAL_MODE", cfg.DatabaseURL == "", strconv.ParseBool)
	if cfg.LocalMode {
		cfg.DatabaseDriver = DriverSQLite
	}
	cfg.Warnings = e.warnings

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, errors.Newf(format, args...))
		}
	}

	u, err := url.Parse(c.FSMBaseURL)
	check(err == nil && u.Scheme != "" && u.Host != "", "FSM_BASE_URL %q is not an absolute URL", c.FSMBaseURL)
	check(c.FSMTimeout > 0, "FSM_TIMEOUT must be positive, got %s", c.FSMTimeout)
	check(c.FSMRatePerSec >= 0, "FSM_RATE_PER_SEC must not be negative, got %g", c.FSMRatePerSec)
	check(!c.FSMBreakerEnabled || c.FSMBreakerFailures > 0,
		"FSM_BREAKER_FAILURES must be positive when the breaker is enabled, got %d", c.FSMBreakerFailures)
	_, err = time.LoadLocation(c.DefaultTimezone)
	check(err == nil, "DEFAULT_TIMEZONE %q is not a known zone", c.DefaultTimezone)

	switch c.DatabaseDriver {
	case DriverAuto, DriverSQLite, DriverPostgres, "postgresql", "pgx", "sqlite3":
	default:
		check(false, "DATABASE_DRIVER %q is not supported", c.DatabaseDriver)
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Wrap(errors.Join(errs...), "invalid configuration")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool { return c.AppEnv == "development" }

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool { return c.AppEnv == "production" }

// IsLocalMode reports whether sync records live in a local SQLite file.
func (c *Config) IsLocalMode() bool { return c.LocalMode }

// IsSQLite reports whether the SQLite driver is selected.
func (c *Config) IsSQLite() bool {
	return c.DatabaseDriver == DriverSQLite || (c.DatabaseDriver == DriverAuto && c.LocalMode)
}

// IsPostgres reports whether the PostgreSQL driver is selected.
func (c *Config) IsPostgres() bool {
	return c.DatabaseDriver == DriverPostgres || (c.DatabaseDriver == DriverAuto && !c.LocalMode)
}

// env reads variables and remembers the ones that failed to parse.
type env struct {
	warnings []string
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func read[T any](e *env, key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		e.warnings = append(e.warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
		return def
	}
	return v
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fieldsync", "data.db")
	}
	return filepath.Join(home, ".fieldsync", "data.db")
}
