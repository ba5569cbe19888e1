// Package seqsqlite implements the sequencer's persistence collaborators
// over database/sql, with SQL shaped for SQLite. One Store serves one table
// binding; all statements are built from validated identifiers.
package seqsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/the-dev-tools/sequencer/pkg/idwrap"
	"github.com/the-dev-tools/sequencer/pkg/seqbind"
	"github.com/the-dev-tools/sequencer/pkg/sequencer"
)

// Store answers sibling queries and applies position patches for one bound
// table.
type Store struct {
	db *sql.DB
	b  seqbind.Binding
}

var (
	_ sequencer.SiblingStore    = (*Store)(nil)
	_ sequencer.PositionPatcher = (*Store)(nil)
)

// NewStore validates the binding and returns a store for it.
func NewStore(db *sql.DB, b seqbind.Binding) (*Store, error) {
	b = b.WithDefaults()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, b: b}, nil
}

// Binding returns the validated binding the store serves.
func (s *Store) Binding() seqbind.Binding {
	return s.b
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) q(tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return s.db
}

// scopeWhere renders the scope's equality constraints. Nil values compare
// with IS NULL; everything else binds a placeholder.
func scopeWhere(scope sequencer.GroupScope) (clauses []string, args []any) {
	for _, term := range scope {
		if term.Value == nil {
			clauses = append(clauses, term.Column+" IS NULL")
			continue
		}
		clauses = append(clauses, term.Column+" = ?")
		args = append(args, term.Value)
	}
	return clauses, args
}

func (s *Store) selectRefs(ctx context.Context, tx *sql.Tx, clauses []string, args []any) ([]sequencer.SiblingRef, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", s.b.IDColumn, s.b.PositionColumn, s.b.Table)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s ASC", s.b.PositionColumn)

	rows, err := s.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []sequencer.SiblingRef
	for rows.Next() {
		var ref sequencer.SiblingRef
		if err := rows.Scan(&ref.ID, &ref.Position); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Siblings returns every row in the scope, ordered by position ascending.
func (s *Store) Siblings(ctx context.Context, tx *sql.Tx, scope sequencer.GroupScope) ([]sequencer.SiblingRef, error) {
	clauses, args := scopeWhere(scope)
	return s.selectRefs(ctx, tx, clauses, args)
}

// MaxPosition returns the highest position in the scope; ok is false when
// the group holds no rows.
func (s *Store) MaxPosition(ctx context.Context, tx *sql.Tx, scope sequencer.GroupScope) (int64, bool, error) {
	clauses, args := scopeWhere(scope)
	query := fmt.Sprintf("SELECT MAX(%s) FROM %s", s.b.PositionColumn, s.b.Table)
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	var max sql.NullInt64
	if err := s.q(tx).QueryRowContext(ctx, query, args...).Scan(&max); err != nil {
		return 0, false, err
	}
	return max.Int64, max.Valid, nil
}

// SiblingsFrom returns rows with position >= pos.
func (s *Store) SiblingsFrom(ctx context.Context, tx *sql.Tx, scope sequencer.GroupScope, pos int64) ([]sequencer.SiblingRef, error) {
	clauses, args := scopeWhere(scope)
	clauses = append(clauses, s.b.PositionColumn+" >= ?")
	args = append(args, pos)
	return s.selectRefs(ctx, tx, clauses, args)
}

// SiblingsAfter returns rows with position > pos.
func (s *Store) SiblingsAfter(ctx context.Context, tx *sql.Tx, scope sequencer.GroupScope, pos int64) ([]sequencer.SiblingRef, error) {
	clauses, args := scopeWhere(scope)
	clauses = append(clauses, s.b.PositionColumn+" > ?")
	args = append(args, pos)
	return s.selectRefs(ctx, tx, clauses, args)
}

// SiblingsBetween returns rows with lo <= position <= hi, excluding the row
// identified by exclude.
func (s *Store) SiblingsBetween(ctx context.Context, tx *sql.Tx, scope sequencer.GroupScope, lo, hi int64, exclude idwrap.IDWrap) ([]sequencer.SiblingRef, error) {
	clauses, args := scopeWhere(scope)
	clauses = append(clauses,
		s.b.PositionColumn+" >= ?",
		s.b.PositionColumn+" <= ?",
		s.b.IDColumn+" <> ?")
	args = append(args, lo, hi, exclude.Bytes())
	return s.selectRefs(ctx, tx, clauses, args)
}

// ShiftPositions adds delta to the position of every listed row in one
// statement. This is the raw patch path: it writes the position column
// directly and never touches the host's save pipeline.
func (s *Store) ShiftPositions(ctx context.Context, tx *sql.Tx, ids []idwrap.IDWrap, delta int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("UPDATE %s SET %s = %s + ? WHERE %s IN (%s)",
		s.b.Table, s.b.PositionColumn, s.b.PositionColumn, s.b.IDColumn, placeholders)

	args := make([]any, 0, len(ids)+1)
	args = append(args, delta)
	for _, id := range ids {
		args = append(args, id.Bytes())
	}

	res, err := s.q(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected != int64(len(ids)) {
		return fmt.Errorf("seqsqlite: shifted %d of %d rows", affected, len(ids))
	}
	return nil
}
