// Package dbtest hands out isolated in-memory SQLite databases for tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// GetTestDB opens a private in-memory database with a unique name so
// parallel tests never share state. The pool is capped at one connection:
// a shared-cache memory DB disappears when its last connection closes, and
// a single connection keeps concurrent test writers serialized the same way
// production writers are.
func GetTestDB(ctx context.Context) (*sql.DB, error) {
	uniqueName := ulid.Make().String()
	connStr := fmt.Sprintf("file:testdb_%s?mode=memory&cache=shared", uniqueName)

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
