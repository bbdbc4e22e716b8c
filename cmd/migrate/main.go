// Command migrate applies the SQL files in a migrations directory in name
// order. Applied files are recorded in schema_migrations and skipped on
// later runs.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignite/tinymail/internal/config"
	"github.com/ignite/tinymail/internal/pkg/logger"
	"github.com/ignite/tinymail/internal/repository/postgres"
)

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

func main() {
	configPath := flag.String("config", "", "optional YAML config file; DATABASE_URL overrides it")
	listOnly := flag.Bool("list", false, "list tables and applied migrations, then exit")
	flag.Parse()

	dir := "migrations"
	if flag.NArg() > 0 {
		dir = flag.Arg(0)
	}

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("migrate: load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		logger.Error("migrate: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, cfg.Database.URL, 2)
	if err != nil {
		logger.Error("migrate: connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, createMigrationsTable); err != nil {
		logger.Error("migrate: create schema_migrations", "error", err)
		os.Exit(1)
	}

	if *listOnly {
		if err := list(ctx, db); err != nil {
			logger.Error("migrate: list", "error", err)
			os.Exit(1)
		}
		return
	}

	applied, skipped, err := run(ctx, db, dir)
	if err != nil {
		logger.Error("migrate: failed", "error", err, "applied", applied)
		os.Exit(1)
	}
	logger.Info("migrate: done", "applied", applied, "skipped", skipped)
}

func run(ctx context.Context, db *sql.DB, dir string) (applied, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var done bool
		if err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, f).Scan(&done); err != nil {
			return applied, skipped, fmt.Errorf("check %s: %w", f, err)
		}
		if done {
			skipped++
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return applied, skipped, fmt.Errorf("read %s: %w", f, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, skipped, fmt.Errorf("begin %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			tx.Rollback()
			return applied, skipped, fmt.Errorf("apply %s: %w", f, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, f); err != nil {
			tx.Rollback()
			return applied, skipped, fmt.Errorf("record %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, skipped, fmt.Errorf("commit %s: %w", f, err)
		}
		logger.Info("migrate: applied", "file", f)
		applied++
	}
	return applied, skipped, nil
}

func list(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `SELECT name, applied_at FROM schema_migrations ORDER BY name`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var name, at string
		if err := rows.Scan(&name, &at); err != nil {
			return err
		}
		fmt.Printf("  %s  %s\n", name, at)
		n++
	}
	fmt.Printf("Total: %d applied\n", n)
	return rows.Err()
}
