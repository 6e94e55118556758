package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tresgarza/log-u/internal/config"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// DB holds the database connection
type DB struct {
	Conn   *sqlx.DB
	Driver string
}

// NewDB creates the database connection using config and applies pending
// migrations when cfg.Database.Migrate is set.
func NewDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch cfg.Database.Driver {
	case DriverSQLite:
		db, err = OpenSQLite(ctx, cfg.Database.Path)
	default:
		db, err = openPostgres(ctx, &cfg.Database)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx, logger); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("database ready", "driver", db.Driver)
	return db, nil
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	postgres, err := sqlx.ConnectContext(ctx, DriverPostgres, cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// Configure connection pool
	postgres.SetMaxOpenConns(cfg.MaxConns)
	postgres.SetMaxIdleConns(cfg.MinConns)
	postgres.SetConnMaxLifetime(time.Hour)

	return &DB{Conn: postgres, Driver: DriverPostgres}, nil
}

// OpenSQLite opens a SQLite database at path without migrating it. The pool
// is pinned to a single connection so transactions serialize instead of
// failing with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_time_format=sqlite"
	conn, err := sqlx.ConnectContext(ctx, DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return &DB{Conn: conn, Driver: DriverSQLite}, nil
}

// Migrate applies all pending migrations for the connection's dialect.
func (db *DB) Migrate(ctx context.Context, logger *slog.Logger) error {
	dialect := goose.DialectPostgres
	dir := "migrations/postgres"
	if db.Driver == DriverSQLite {
		dialect = goose.DialectSQLite3
		dir = "migrations/sqlite"
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(dialect, db.Conn.DB, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		logger.Info("applied migration", "version", r.Source.Version, "duration", r.Duration)
	}
	return nil
}

// Ping checks the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.Conn.PingContext(ctx)
}

// Close closes all database connections
func (db *DB) Close() error {
	if err := db.Conn.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", db.Driver, err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
