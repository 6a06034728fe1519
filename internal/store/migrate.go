package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies every pending migration from fsys in version order.
// Files are named {version}_{name}.sql; applied versions are tracked in
// schema_migrations and skipped on later runs.
func Migrate(ctx context.Context, db *pgxpool.Pool, fsys fs.FS, logger *zap.Logger) error {
	migrations, err := loadMigrations(fsys)
	if err != nil {
		return err
	}
	logger.Info("found migration files", zap.Int("count", len(migrations)))

	for _, m := range migrations {
		if err := applyMigration(ctx, db, m, logger); err != nil {
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
	}
	return nil
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

func applyMigration(ctx context.Context, db *pgxpool.Pool, m migration, logger *zap.Logger) error {
	// The existence check runs outside the transaction; on the very first
	// run the tracking table itself does not exist yet.
	var applied bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
		m.version).Scan(&applied)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("check status: %w", err)
		}
		if _, err := db.Exec(ctx,
			`CREATE TABLE IF NOT EXISTS schema_migrations (
			   version    INT PRIMARY KEY,
			   name       TEXT NOT NULL,
			   applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			 )`); err != nil {
			return fmt.Errorf("create tracking table: %w", err)
		}
	}
	if applied {
		logger.Debug("migration already applied", zap.String("name", m.name))
		return nil
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	logger.Info("applying migration", zap.String("name", m.name))
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
		m.version, m.name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
