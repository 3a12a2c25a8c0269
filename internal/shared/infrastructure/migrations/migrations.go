// Package migrations applies the embedded schema for the active database driver.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/medplan/medplan/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version     TEXT PRIMARY KEY,
    applied_at  TEXT NOT NULL
)`

// Run applies every pending *.up.sql file for the connection's driver in
// lexical order. Applied versions are recorded in schema_migrations.
func Run(ctx context.Context, conn database.Connection) ([]string, error) {
	dir := conn.Driver().String()
	pending, err := upFiles(dir)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(ctx, createVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, name := range pending {
		version := strings.TrimSuffix(name, ".up.sql")
		if applied[version] {
			continue
		}

		body, err := files.ReadFile(dir + "/" + name)
		if err != nil {
			return ran, fmt.Errorf("read migration %s: %w", name, err)
		}

		err = func() error {
			tx, err := conn.BeginTx(ctx)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, string(body)); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			insert := database.Rebind(conn.Driver(), `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`)
			if _, err := tx.Exec(ctx, insert, version, time.Now().UTC().Format(time.RFC3339)); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			return tx.Commit(ctx)
		}()
		if err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", name, err)
		}
		ran = append(ran, version)
	}

	return ran, nil
}

func upFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func appliedVersions(ctx context.Context, conn database.Connection) (map[string]bool, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
