// Package txutil runs a function inside a single database transaction,
// committing on success and rolling back on error or panic.
package txutil

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx begins a transaction on db, invokes fn with it, and commits when fn
// returns nil. Any error from fn rolls the transaction back so no partial
// writes survive the call.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txutil: begin: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txutil: commit: %w", err)
	}
	done = true
	return nil
}
