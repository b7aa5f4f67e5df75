// Package migrations embeds the engine schema.
package migrations

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed 001_init.sql
var initSQL string

// Apply runs the idempotent schema statements against db.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, initSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
