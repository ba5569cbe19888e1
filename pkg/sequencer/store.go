package sequencer

import (
	"context"
	"database/sql"

	"github.com/the-dev-tools/sequencer/pkg/idwrap"
)

// SiblingRef is the ordering-relevant projection of a stored row.
type SiblingRef struct {
	ID       idwrap.IDWrap
	Position int64
}

// SiblingStore is the query side of the persistence collaborator: equality
// filters for group scoping, range filters on the position column, and the
// max aggregate. All listing methods return rows ordered by position
// ascending. When tx is non-nil the query runs inside it.
type SiblingStore interface {
	// Siblings returns every row in the scope.
	Siblings(ctx context.Context, tx *sql.Tx, scope GroupScope) ([]SiblingRef, error)

	// MaxPosition returns the highest position in the scope. ok is false
	// when the group holds no rows.
	MaxPosition(ctx context.Context, tx *sql.Tx, scope GroupScope) (max int64, ok bool, err error)

	// SiblingsFrom returns rows with position >= pos.
	SiblingsFrom(ctx context.Context, tx *sql.Tx, scope GroupScope, pos int64) ([]SiblingRef, error)

	// SiblingsAfter returns rows with position > pos.
	SiblingsAfter(ctx context.Context, tx *sql.Tx, scope GroupScope, pos int64) ([]SiblingRef, error)

	// SiblingsBetween returns rows with lo <= position <= hi, excluding the
	// row identified by exclude (the record being moved is already stored
	// inside the window at its original position).
	SiblingsBetween(ctx context.Context, tx *sql.Tx, scope GroupScope, lo, hi int64, exclude idwrap.IDWrap) ([]SiblingRef, error)
}

// PositionPatcher is the raw update side of the collaborator: a direct column
// patch addressed by id. It is a separate capability from whatever "save
// entity" path the host runs, so shifts structurally cannot re-enter the
// lifecycle hooks.
type PositionPatcher interface {
	// ShiftPositions adds delta to the position of every listed row. An
	// empty id set is a no-op.
	ShiftPositions(ctx context.Context, tx *sql.Tx, ids []idwrap.IDWrap, delta int64) error
}
