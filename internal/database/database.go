package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"arbiter/internal/config"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/lib/pq"              // postgres driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	dialect dialect
	path    string
	logger  *zerolog.Logger
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteDSN opens every transaction with BEGIN IMMEDIATE so that a booking
// transaction holds the write lock from its first read.
func sqliteDSN(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	d, ok := dialectFor(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	var dsn string
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(cfg.Path)
	default:
		dsn = cfg.DSN
	}

	sqlDB, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	// Every connection to :memory: is a separate database.
	if cfg.Driver == config.DriverSQLite && cfg.Path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:      sqlDB,
		dialect: d,
		path:    cfg.Path,
		logger:  logger,
	}

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("driver", cfg.Driver).Msg("Database initialized")
	return db, nil
}

func (db *DB) createTables() error {
	for _, query := range db.dialect.schema {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Driver returns the configured driver name.
func (db *DB) Driver() string {
	return db.dialect.name
}

// Path returns the sqlite file path, empty for server databases.
func (db *DB) Path() string {
	if db.dialect.name != config.DriverSQLite {
		return ""
	}
	return db.path
}

func (db *DB) rebind(query string) string {
	return db.dialect.rebind(query)
}

// insertID runs an insert and returns the generated id.
func (db *DB) insertID(ctx context.Context, q queryer, query string, args ...interface{}) (int64, error) {
	if db.dialect.returningID {
		var id int64
		if err := q.QueryRowContext(ctx, db.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	result, err := q.ExecContext(ctx, db.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}
