// Package database abstracts the PostgreSQL and SQLite backends behind one
// executor interface so repositories can run inside or outside a transaction.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Row is a single result row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result cursor.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result is the outcome of an Exec.
type Result interface {
	RowsAffected() (int64, error)
}

// Executor runs statements against a connection or a transaction.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is an Executor that can be committed or rolled back.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a pooled database handle.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
	Ping(ctx context.Context) error
	Driver() Driver
}

// Config selects and configures a backend.
type Config struct {
	// Driver is detected from URL when empty.
	Driver     Driver
	URL        string
	SQLitePath string
	MaxConns   int
}

type connector func(ctx context.Context, cfg Config) (Connection, error)

var connectors = map[Driver]connector{}

// Register makes a backend available to Open. Backends call it from init.
func Register(driver Driver, fn func(ctx context.Context, cfg Config) (Connection, error)) {
	connectors[driver] = fn
}

// Open creates a connection for the configured driver. The backend package
// must be linked in (postgres or sqlite) for its driver to be available.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.URL)
	}
	fn, ok := connectors[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
	return fn(ctx, cfg)
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// SQLExecutor adapts database/sql handles (*sql.DB, *sql.Tx) to Executor.
type SQLExecutor struct {
	Handle interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
		QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	}
}

func (e SQLExecutor) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return e.Handle.ExecContext(ctx, query, args...)
}

func (e SQLExecutor) QueryRow(ctx context.Context, query string, args ...any) Row {
	return e.Handle.QueryRowContext(ctx, query, args...)
}

func (e SQLExecutor) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	return e.Handle.QueryContext(ctx, query, args...)
}
