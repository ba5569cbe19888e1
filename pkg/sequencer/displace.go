package sequencer

import (
	"fmt"
	"sort"
)

// ShiftDirection selects whether displaced siblings move up (+1) or down (-1).
type ShiftDirection int

const (
	ShiftUp ShiftDirection = iota
	ShiftDown
)

func (d ShiftDirection) String() string {
	if d == ShiftDown {
		return "down"
	}
	return "up"
}

// Delta returns the position adjustment for the direction.
func (d ShiftDirection) Delta() int64 {
	if d == ShiftDown {
		return -1
	}
	return 1
}

// MoveWindow computes the inclusive position range displaced by moving a
// record from oldPos to newPos within one group, and the direction the
// displaced siblings shift. ok is false when the positions are equal and
// nothing moves.
func MoveWindow(oldPos, newPos int64) (lo, hi int64, dir ShiftDirection, ok bool) {
	switch {
	case newPos < oldPos:
		return newPos, oldPos, ShiftUp, true
	case newPos > oldPos:
		return oldPos, newPos, ShiftDown, true
	default:
		return 0, 0, ShiftUp, false
	}
}

// CheckContiguity verifies that the live positions of one group form the run
// 1..N with no duplicates and no gaps. The refs may arrive in any order.
func CheckContiguity(refs []SiblingRef) error {
	if len(refs) == 0 {
		return nil
	}

	positions := make([]int64, len(refs))
	byPos := make(map[int64]SiblingRef, len(refs))
	for i, ref := range refs {
		positions[i] = ref.Position
		if prev, dup := byPos[ref.Position]; dup {
			return fmt.Errorf("%w: position %d held by both %s and %s",
				ErrSequenceCorrupt, ref.Position, prev.ID.String(), ref.ID.String())
		}
		byPos[ref.Position] = ref
	}

	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	for i, pos := range positions {
		want := int64(i + 1)
		if pos != want {
			return fmt.Errorf("%w: expected position %d, found %d", ErrSequenceCorrupt, want, pos)
		}
	}
	return nil
}
