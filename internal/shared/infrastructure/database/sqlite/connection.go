// Package sqlite registers the modernc.org/sqlite backend used in local mode
// and in tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/medplan/medplan/internal/shared/infrastructure/database"
	_ "modernc.org/sqlite"
)

func init() {
	database.Register(database.DriverSQLite, Open)
}

const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Connection is a single-writer SQLite handle.
type Connection struct {
	database.SQLExecutor
	db *sql.DB
}

// Open opens (and creates when missing) the database file at cfg.SQLitePath.
func Open(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := strings.TrimPrefix(cfg.SQLitePath, "sqlite://")
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := database.EnsureDirectory(path); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// One connection serializes writers; SQLite has a single write lock anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return &Connection{SQLExecutor: database.SQLExecutor{Handle: db}, db: db}, nil
}

// DB exposes the underlying handle.
func (c *Connection) DB() *sql.DB { return c.db }

func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

func (c *Connection) Close() error { return c.db.Close() }

func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &transaction{SQLExecutor: database.SQLExecutor{Handle: tx}, tx: tx}, nil
}

type transaction struct {
	database.SQLExecutor
	tx *sql.Tx
}

func (t *transaction) Commit(context.Context) error   { return t.tx.Commit() }
func (t *transaction) Rollback(context.Context) error { return t.tx.Rollback() }
