package history

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/sql/*.sql
var migrationFS embed.FS

// migrate applies every pending goose migration embedded under
// migrations/sql. Grounded on the teacher's
// internal/infrastructure/migrations manager, trimmed to what a
// single-tenant SQLite store needs (no up/down CLI, no per-environment
// config — the engine always migrates to latest on startup).
func migrate(db *sql.DB) error {
	goose.SetBaseFS(migrationFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations/sql"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
