package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
)

// Embedded NNN_name.sql files, applied in version order, one transaction
// each. schema_version records what has been applied.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ensure schema table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_version`,
	).Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// fs.ReadDir sorts by filename, which is version order for zero-padded
	// NNN_ prefixes.
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}

	for _, e := range entries {
		ver, err := migrationVersion(e.Name())
		if err != nil {
			return err
		}
		if ver <= current {
			continue
		}
		if err := apply(ctx, db, ver, e.Name()); err != nil {
			return fmt.Errorf("apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the numeric NNN_ prefix. A malformed name is an
// error rather than a skip so a mistyped migration cannot be silently lost.
func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migration %s: name must start with a numeric prefix", name)
	}
	ver, err := strconv.Atoi(prefix)
	if err != nil || ver <= 0 {
		return 0, fmt.Errorf("migration %s: name must start with a numeric prefix", name)
	}
	return ver, nil
}

func apply(ctx context.Context, db *sql.DB, ver int, name string) error {
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, string(data)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`,
		ver,
	); err != nil {
		return err
	}
	return tx.Commit()
}
