package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to another user
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status write would break the transition table
	ErrInvalidTransition = errors.New("invalid status transition")
)

// DB wraps the database connection and provides data access methods
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

// Config contains database configuration
type Config struct {
	DSN             string // PostgreSQL connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SkipMigrations  bool
}

// DefaultConfig returns the default pool settings
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// New opens a connection pool, verifies it and runs pending migrations
func New(config Config) (*DB, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	conn, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	defaults := DefaultConfig()
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = defaults.MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = defaults.MaxIdleConns
	}
	if config.ConnMaxLifetime <= 0 {
		config.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
	conn.SetMaxOpenConns(config.MaxOpenConns)
	conn.SetMaxIdleConns(config.MaxIdleConns)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)

	db := &DB{conn: conn, now: time.Now}

	if !config.SkipMigrations {
		if err := Migrate(conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// DB returns the underlying database connection for metrics collection and migrations
func (db *DB) DB() *sql.DB {
	return db.conn
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}
