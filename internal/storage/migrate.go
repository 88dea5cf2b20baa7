package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
)

// Migration files live in migrations/<driver>/NNNN_description.sql and are
// applied in lexical order. Each applied version is recorded in
// schema_migrations. Nothing creates tables lazily at request time.
//
//go:embed migrations
var migrationFS embed.FS

const migrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL
)`

// migrationVersions lists the embedded migration files for the dialect.
func (db *DB) migrationVersions() ([]string, error) {
	dir := path.Join("migrations", db.dialect.name)
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %s: %w", db.dialect.name, err)
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		versions = append(versions, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(versions)
	return versions, nil
}

// appliedVersions returns the set of versions recorded in schema_migrations.
// A database that was never migrated has no versions.
func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	applied := make(map[string]bool)

	var exists int
	err := db.q.QueryRowxContext(ctx, db.q.Rebind(db.dialect.tableExists), "schema_migrations").Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return applied, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up schema_migrations: %w", err)
	}

	rows, err := db.q.QueryxContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// PendingMigrations returns the versions that Migrate would apply.
func (db *DB) PendingMigrations(ctx context.Context) ([]string, error) {
	versions, err := db.migrationVersions()
	if err != nil {
		return nil, err
	}
	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, v := range versions {
		if !applied[v] {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration, each inside its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.q.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		slog.Info("Schema is up to date", "driver", db.dialect.name)
		return nil
	}

	for _, version := range pending {
		script, err := fs.ReadFile(migrationFS, path.Join("migrations", db.dialect.name, version+".sql"))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", version, err)
		}

		err = db.InTx(ctx, func(tx *DB) error {
			if _, err := tx.q.ExecContext(ctx, string(script)); err != nil {
				return fmt.Errorf("failed to apply migration %s: %w", version, err)
			}
			_, err := tx.q.ExecContext(ctx,
				tx.q.Rebind(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`),
				version, time.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to record migration %s: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		slog.Info("Applied migration", "version", version, "driver", db.dialect.name)
	}
	return nil
}
