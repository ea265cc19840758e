package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Dir is the directory inside the embedded filesystem holding SQL migrations.
const Dir = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run executes a goose command (up, down, status, redo, version...) against the pool.
func Run(ctx context.Context, pool *pgxpool.Pool, command string, args ...string) error {
	if pool == nil {
		return fmt.Errorf("migrate: pool is required")
	}
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	return RunDB(ctx, db, command, args...)
}

// RunDB executes a goose command on an existing database handle.
func RunDB(ctx context.Context, db *sql.DB, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("migrate: db is required")
	}
	if command == "" {
		command = "up"
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrate: set goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, Dir, args...); err != nil {
		return fmt.Errorf("migrate: goose %s: %w", command, err)
	}
	return nil
}
