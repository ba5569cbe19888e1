// Package sequencer keeps a dense, gapless 1..N ordering of records inside
// named partitions ("groups") of a table. The host persistence layer calls
// the three lifecycle entry points at defined moments; sibling positions are
// repaired through a raw column patch that bypasses the host's save pipeline,
// so a shift can never re-trigger the hooks that caused it.
package sequencer

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/the-dev-tools/sequencer/pkg/idwrap"
)

// Record carries the ordering-relevant state of a stored row.
type Record struct {
	ID       idwrap.IDWrap
	Position int64
	Groups   GroupValues
}

// NewRecord is a record about to be inserted. A nil Position means append to
// the end of its group; an explicit Position means insert at that slot,
// displacing everyone at or after it.
type NewRecord struct {
	ID       idwrap.IDWrap
	Position *int64
	Groups   GroupValues
}

// Sequencer computes and applies the minimal sibling displacements for one
// bound table. It is safe for concurrent use; callers serialize same-group
// operations with LockGroups.
type Sequencer struct {
	store        SiblingStore
	patch        PositionPatcher
	groupColumns []string
	log          *slog.Logger
	locks        *groupLocks
}

// New builds a Sequencer over the given collaborators. groupColumns names
// the columns that partition the table; none means one global group. A nil
// logger falls back to slog.Default.
func New(store SiblingStore, patch PositionPatcher, groupColumns []string, log *slog.Logger) *Sequencer {
	if log == nil {
		log = slog.Default()
	}
	return &Sequencer{
		store:        store,
		patch:        patch,
		groupColumns: append([]string(nil), groupColumns...),
		log:          log,
		locks:        newGroupLocks(),
	}
}

// Scope derives the group scope for a set of group values using the
// configured group columns.
func (s *Sequencer) Scope(groups GroupValues) GroupScope {
	return ScopeFor(s.groupColumns, groups)
}

// LockGroups serializes in-process writers for the given groups. Hosts hold
// the lock across the whole read-shift-write sequence of one lifecycle
// operation, including their own row write, and release it after commit.
func (s *Sequencer) LockGroups(groups ...GroupValues) (unlock func()) {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = s.Scope(g).Key()
	}
	return s.locks.lockKeys(keys)
}

// AssignOnCreate decides the position of a record about to be inserted and
// opens a slot for it when one was requested. Call it before the row is
// physically written; the assigned position is stored into rec.Position and
// also returned.
func (s *Sequencer) AssignOnCreate(ctx context.Context, tx *sql.Tx, rec *NewRecord) (int64, error) {
	if rec == nil {
		return 0, ErrNilRecord
	}
	if rec.ID.IsZero() {
		return 0, ErrMissingID
	}
	scope := s.Scope(rec.Groups)

	if rec.Position == nil {
		max, ok, err := s.store.MaxPosition(ctx, tx, scope)
		if err != nil {
			return 0, fmt.Errorf("assign position: %w", err)
		}
		pos := int64(1)
		if ok {
			pos = max + 1
		}
		rec.Position = &pos
		s.log.DebugContext(ctx, "appended to group",
			slog.String("group", scope.Key()), slog.Int64("position", pos))
		return pos, nil
	}

	// Explicit slot: everyone at or after it moves up one.
	displaced, err := s.store.SiblingsFrom(ctx, tx, scope, *rec.Position)
	if err != nil {
		return 0, fmt.Errorf("query displaced siblings: %w", err)
	}
	if err := s.Shift(ctx, tx, refIDs(displaced), ShiftUp); err != nil {
		return 0, err
	}
	s.log.DebugContext(ctx, "opened slot for insert",
		slog.String("group", scope.Key()),
		slog.Int64("position", *rec.Position),
		slog.Int("displaced", len(displaced)))
	return *rec.Position, nil
}

// RepositionOnUpdate repairs sibling positions for a record whose position or
// group membership changed. Call it before the row is physically updated,
// with the record's pre-mutation state in original.
func (s *Sequencer) RepositionOnUpdate(ctx context.Context, tx *sql.Tx, rec, original Record) error {
	if rec.ID.IsZero() {
		return ErrMissingID
	}

	changed := changedGroupColumns(s.groupColumns, original.Groups, rec.Groups)
	if len(changed) > 0 {
		return s.moveBetweenGroups(ctx, tx, rec, original, changed)
	}

	if rec.Position == original.Position {
		return nil
	}

	scope := s.Scope(rec.Groups)
	lo, hi, dir, ok := MoveWindow(original.Position, rec.Position)
	if !ok {
		return nil
	}
	// The moving record still sits inside the window at its original
	// position, so it is excluded from the displacement query.
	displaced, err := s.store.SiblingsBetween(ctx, tx, scope, lo, hi, rec.ID)
	if err != nil {
		return fmt.Errorf("query displaced siblings: %w", err)
	}
	if err := s.Shift(ctx, tx, refIDs(displaced), dir); err != nil {
		return err
	}
	s.log.DebugContext(ctx, "moved within group",
		slog.String("group", scope.Key()),
		slog.Int64("from", original.Position), slog.Int64("to", rec.Position),
		slog.Int("displaced", len(displaced)))
	return nil
}

// moveBetweenGroups runs the two independent halves of a group change: open a
// slot in the entered group, close the gap in the left one. Changing more
// than one group dimension in a single update is accepted best effort; the
// resulting position in the destination group is not guaranteed.
func (s *Sequencer) moveBetweenGroups(ctx context.Context, tx *sql.Tx, rec, original Record, changed []string) error {
	newScope := s.Scope(rec.Groups)
	oldScope := s.Scope(original.Groups)

	if len(changed) > 1 {
		s.log.WarnContext(ctx, "multiple group columns changed in one update, repositioning is best effort",
			slog.Any("columns", changed))
	}

	// Entering group: the record's row still carries its old group values,
	// so it never matches the new scope.
	entering, err := s.store.SiblingsFrom(ctx, tx, newScope, rec.Position)
	if err != nil {
		return fmt.Errorf("query entered group: %w", err)
	}
	if err := s.Shift(ctx, tx, refIDs(entering), ShiftUp); err != nil {
		return err
	}

	// Leaving group: strictly after the vacated position, so the record's
	// own stored row is not displaced.
	leaving, err := s.store.SiblingsAfter(ctx, tx, oldScope, original.Position)
	if err != nil {
		return fmt.Errorf("query left group: %w", err)
	}
	if err := s.Shift(ctx, tx, refIDs(leaving), ShiftDown); err != nil {
		return err
	}

	s.log.DebugContext(ctx, "moved between groups",
		slog.String("from", oldScope.Key()), slog.String("to", newScope.Key()),
		slog.Int("entered_displaced", len(entering)),
		slog.Int("left_displaced", len(leaving)))
	return nil
}

// CloseGapOnDelete closes the hole a removed record leaves behind. Call it
// after the row is physically deleted, with the record's state at deletion
// time.
func (s *Sequencer) CloseGapOnDelete(ctx context.Context, tx *sql.Tx, rec Record) error {
	if rec.ID.IsZero() {
		return ErrMissingID
	}
	scope := s.Scope(rec.Groups)

	displaced, err := s.store.SiblingsFrom(ctx, tx, scope, rec.Position)
	if err != nil {
		return fmt.Errorf("query displaced siblings: %w", err)
	}
	if err := s.Shift(ctx, tx, refIDs(displaced), ShiftDown); err != nil {
		return err
	}
	s.log.DebugContext(ctx, "closed gap after delete",
		slog.String("group", scope.Key()),
		slog.Int64("position", rec.Position), slog.Int("displaced", len(displaced)))
	return nil
}

// Shift applies the ±1 adjustment to every listed row through the raw patch
// path. Safe with an empty set; order among the ids does not matter.
func (s *Sequencer) Shift(ctx context.Context, tx *sql.Tx, ids []idwrap.IDWrap, dir ShiftDirection) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.patch.ShiftPositions(ctx, tx, ids, dir.Delta()); err != nil {
		return fmt.Errorf("shift %s: %w", dir, err)
	}
	return nil
}

// VerifyGroup checks the contiguity invariant for one group. Diagnostic
// helper; the lifecycle operations maintain the invariant themselves.
func (s *Sequencer) VerifyGroup(ctx context.Context, tx *sql.Tx, groups GroupValues) error {
	refs, err := s.store.Siblings(ctx, tx, s.Scope(groups))
	if err != nil {
		return fmt.Errorf("verify group: %w", err)
	}
	return CheckContiguity(refs)
}

func refIDs(refs []SiblingRef) []idwrap.IDWrap {
	ids := make([]idwrap.IDWrap, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}
	return ids
}
