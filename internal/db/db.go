package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

type Options struct {
	Driver string
	// DSN is used as-is for pgx and mysql. For sqlite, Path is used when DSN is empty.
	DSN         string
	Path        string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

func Open(opts Options) (*sqlx.DB, error) {
	dsn := opts.DSN
	switch opts.Driver {
	case DriverSQLite:
		if dsn == "" {
			if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
				return nil, fmt.Errorf("mkdir db dir: %w", err)
			}
			dsn = SQLiteDSN(opts.Path)
		}
	case DriverPostgres, DriverMySQL:
		if dsn == "" {
			return nil, fmt.Errorf("%s driver requires DB_DSN", opts.Driver)
		}
	default:
		return nil, fmt.Errorf("unsupported db driver %q", opts.Driver)
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(opts.MaxOpen)
	db.SetMaxIdleConns(opts.MaxIdle)
	db.SetConnMaxLifetime(opts.MaxLifetime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func OpenSQLite(path string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sqlx.DB, error) {
	return Open(Options{Driver: DriverSQLite, Path: path, MaxOpen: maxOpen, MaxIdle: maxIdle, MaxLifetime: maxLifetime})
}

func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite", path)
}

// Dialect names the migrations subdirectory for a driver.
func Dialect(driver string) string {
	switch driver {
	case DriverPostgres:
		return "postgres"
	case DriverMySQL:
		return "mysql"
	}
	return "sqlite"
}
