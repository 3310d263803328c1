package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"
)

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var mailflowTables = []string{
	"communication_events", "consent_records", "delivery_logs",
	"provider_health_metrics", "suppression_entries",
}

// migrator applies the .sql files in dir in name order. Each file runs in
// its own transaction together with its schema_migrations row, so a file is
// applied exactly once.
type migrator struct {
	db  *sql.DB
	dir string
	out io.Writer
}

func (m *migrator) files() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", m.dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (m *migrator) applied(ctx context.Context) (map[string]bool, error) {
	if _, err := m.db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

// Up applies every pending file and stops at the first failure, since
// later files may build on it. It returns how many files were applied.
func (m *migrator) Up(ctx context.Context) (int, error) {
	files, err := m.files()
	if err != nil {
		return 0, err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, f := range files {
		if done[f] {
			fmt.Fprintf(m.out, "  %s ... already applied\n", f)
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, f))
		if err != nil {
			return n, fmt.Errorf("read %s: %w", f, err)
		}
		fmt.Fprintf(m.out, "  %s ... ", f)
		if err := m.apply(ctx, f, string(data)); err != nil {
			fmt.Fprintln(m.out, "ERROR")
			return n, err
		}
		fmt.Fprintln(m.out, "OK")
		n++
	}
	return n, nil
}

func (m *migrator) apply(ctx context.Context, version, content string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", version, err)
	}
	defer tx.Rollback()

	if strings.TrimSpace(content) != "" {
		if _, err := tx.ExecContext(ctx, content); err != nil {
			return fmt.Errorf("%s: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
		return fmt.Errorf("%s: record version: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", version, err)
	}
	return nil
}

// List prints each migration file's state and which mailflow tables exist.
func (m *migrator) List(ctx context.Context) error {
	files, err := m.files()
	if err != nil {
		return err
	}
	done, err := m.applied(ctx)
	if err != nil {
		return err
	}
	pending := 0
	for _, f := range files {
		state := "applied"
		if !done[f] {
			state = "pending"
			pending++
		}
		fmt.Fprintf(m.out, "  %-32s %s\n", f, state)
	}
	fmt.Fprintf(m.out, "Migrations: %d files, %d pending\n", len(files), pending)

	rows, err := m.db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename = ANY($1)
		ORDER BY tablename
	`, pq.Array(mailflowTables))
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return fmt.Errorf("scan table name: %w", err)
		}
		fmt.Fprintln(m.out, " ", t)
		n++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	fmt.Fprintf(m.out, "Tables: %d of %d\n", n, len(mailflowTables))
	return nil
}
