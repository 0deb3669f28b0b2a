package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/Ebrudra/desk-access-hub/pkg/database"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates the console tables if they do not exist
func EnsureSchema(ctx context.Context, db database.DBTX) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
