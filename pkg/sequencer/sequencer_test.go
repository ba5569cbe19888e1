package sequencer_test

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/the-dev-tools/sequencer/pkg/idwrap"
	"github.com/the-dev-tools/sequencer/pkg/logger/mocklogger"
	"github.com/the-dev-tools/sequencer/pkg/sequencer"
)

// memStore implements the collaborator interfaces over an in-memory row set
// so tests can assert exactly which displacements an operation produces.
type memRow struct {
	id  idwrap.IDWrap
	key string
	pos int64
}

type shiftCall struct {
	ids   []idwrap.IDWrap
	delta int64
}

type memStore struct {
	rows   []*memRow
	shifts []shiftCall
}

func (m *memStore) add(key string, id idwrap.IDWrap, pos int64) {
	m.rows = append(m.rows, &memRow{id: id, key: key, pos: pos})
}

func (m *memStore) remove(id idwrap.IDWrap) {
	for i, row := range m.rows {
		if row.id == id {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

func (m *memStore) find(id idwrap.IDWrap) *memRow {
	for _, row := range m.rows {
		if row.id == id {
			return row
		}
	}
	return nil
}

func (m *memStore) inScope(key string) []*memRow {
	var out []*memRow
	for _, row := range m.rows {
		if row.key == key {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

func (m *memStore) positions(key string) map[idwrap.IDWrap]int64 {
	out := make(map[idwrap.IDWrap]int64)
	for _, row := range m.inScope(key) {
		out[row.id] = row.pos
	}
	return out
}

func toRefs(rows []*memRow) []sequencer.SiblingRef {
	refs := make([]sequencer.SiblingRef, len(rows))
	for i, row := range rows {
		refs[i] = sequencer.SiblingRef{ID: row.id, Position: row.pos}
	}
	return refs
}

func (m *memStore) Siblings(_ context.Context, _ *sql.Tx, scope sequencer.GroupScope) ([]sequencer.SiblingRef, error) {
	return toRefs(m.inScope(scope.Key())), nil
}

func (m *memStore) MaxPosition(_ context.Context, _ *sql.Tx, scope sequencer.GroupScope) (int64, bool, error) {
	rows := m.inScope(scope.Key())
	if len(rows) == 0 {
		return 0, false, nil
	}
	return rows[len(rows)-1].pos, true, nil
}

func (m *memStore) SiblingsFrom(_ context.Context, _ *sql.Tx, scope sequencer.GroupScope, pos int64) ([]sequencer.SiblingRef, error) {
	var out []*memRow
	for _, row := range m.inScope(scope.Key()) {
		if row.pos >= pos {
			out = append(out, row)
		}
	}
	return toRefs(out), nil
}

func (m *memStore) SiblingsAfter(_ context.Context, _ *sql.Tx, scope sequencer.GroupScope, pos int64) ([]sequencer.SiblingRef, error) {
	var out []*memRow
	for _, row := range m.inScope(scope.Key()) {
		if row.pos > pos {
			out = append(out, row)
		}
	}
	return toRefs(out), nil
}

func (m *memStore) SiblingsBetween(_ context.Context, _ *sql.Tx, scope sequencer.GroupScope, lo, hi int64, exclude idwrap.IDWrap) ([]sequencer.SiblingRef, error) {
	var out []*memRow
	for _, row := range m.inScope(scope.Key()) {
		if row.pos >= lo && row.pos <= hi && row.id != exclude {
			out = append(out, row)
		}
	}
	return toRefs(out), nil
}

func (m *memStore) ShiftPositions(_ context.Context, _ *sql.Tx, ids []idwrap.IDWrap, delta int64) error {
	m.shifts = append(m.shifts, shiftCall{ids: ids, delta: delta})
	for _, id := range ids {
		if row := m.find(id); row != nil {
			row.pos += delta
		}
	}
	return nil
}

var taskGroupColumns = []string{"board_id", "lane"}

func newTestSequencer(t *testing.T) (*sequencer.Sequencer, *memStore, *mocklogger.MockHandler) {
	t.Helper()
	store := &memStore{}
	log, handler := mocklogger.NewMockLogger()
	seq := sequencer.New(store, store, taskGroupColumns, log)
	return seq, store, handler
}

func groupOf(seq *sequencer.Sequencer, board, lane string) (sequencer.GroupValues, string) {
	groups := sequencer.GroupValues{"board_id": board, "lane": lane}
	return groups, seq.Scope(groups).Key()
}

// seedGroup inserts n rows at positions 1..n and returns their ids in order.
func seedGroup(store *memStore, key string, n int) []idwrap.IDWrap {
	ids := make([]idwrap.IDWrap, n)
	for i := range ids {
		ids[i] = idwrap.NewNow()
		store.add(key, ids[i], int64(i+1))
	}
	return ids
}

func TestAssignOnCreate_AppendToEmptyGroup(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, _ := groupOf(seq, "b1", "todo")

	rec := &sequencer.NewRecord{ID: idwrap.NewNow(), Groups: groups}
	pos, err := seq.AssignOnCreate(ctx, nil, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(1), pos)
	require.NotNil(t, rec.Position)
	assert.Equal(t, int64(1), *rec.Position)
	assert.Empty(t, store.shifts, "append must not displace anyone")
}

func TestAssignOnCreate_AppendYieldsMaxPlusOne(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	seedGroup(store, key, 3)

	rec := &sequencer.NewRecord{ID: idwrap.NewNow(), Groups: groups}
	pos, err := seq.AssignOnCreate(ctx, nil, rec)
	require.NoError(t, err)

	assert.Equal(t, int64(4), pos)
	assert.Empty(t, store.shifts)
}

func TestAssignOnCreate_ExplicitSlotDisplacesTail(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	ids := seedGroup(store, key, 4)

	want := int64(2)
	rec := &sequencer.NewRecord{ID: idwrap.NewNow(), Position: &want, Groups: groups}
	pos, err := seq.AssignOnCreate(ctx, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)

	got := store.positions(key)
	assert.Equal(t, int64(1), got[ids[0]], "rows before the slot stay put")
	assert.Equal(t, int64(3), got[ids[1]])
	assert.Equal(t, int64(4), got[ids[2]])
	assert.Equal(t, int64(5), got[ids[3]])

	require.Len(t, store.shifts, 1)
	assert.Equal(t, int64(1), store.shifts[0].delta)
	assert.Len(t, store.shifts[0].ids, 3)
}

func TestAssignOnCreate_NegativePositionAcceptedAsIs(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	seedGroup(store, key, 2)

	want := int64(-1)
	rec := &sequencer.NewRecord{ID: idwrap.NewNow(), Position: &want, Groups: groups}
	pos, err := seq.AssignOnCreate(ctx, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), pos, "caller-supplied slot is taken verbatim")

	// Everyone sat at or after -1, so the whole group moved up.
	got := store.positions(key)
	for _, p := range got {
		assert.Greater(t, p, int64(1))
	}
}

func TestAssignOnCreate_InputErrors(t *testing.T) {
	ctx := context.Background()
	seq, _, _ := newTestSequencer(t)

	_, err := seq.AssignOnCreate(ctx, nil, nil)
	assert.ErrorIs(t, err, sequencer.ErrNilRecord)

	_, err = seq.AssignOnCreate(ctx, nil, &sequencer.NewRecord{})
	assert.ErrorIs(t, err, sequencer.ErrMissingID)
}

func TestRepositionOnUpdate_MoveEarlier(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	ids := seedGroup(store, key, 4) // A=1 B=2 C=3 D=4
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	// Move D from 4 to 2.
	err := seq.RepositionOnUpdate(ctx, nil,
		sequencer.Record{ID: d, Position: 2, Groups: groups},
		sequencer.Record{ID: d, Position: 4, Groups: groups})
	require.NoError(t, err)

	// Host writes D's own row afterwards.
	store.find(d).pos = 2

	got := store.positions(key)
	assert.Equal(t, int64(1), got[a])
	assert.Equal(t, int64(3), got[b])
	assert.Equal(t, int64(4), got[c])
	assert.Equal(t, int64(2), got[d])

	require.Len(t, store.shifts, 1)
	assert.Equal(t, int64(1), store.shifts[0].delta)
	assert.Len(t, store.shifts[0].ids, 2, "only B and C sit in the window")
}

func TestRepositionOnUpdate_MoveLater(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	ids := seedGroup(store, key, 4)
	a := ids[0]

	// Move A from 1 to 3.
	err := seq.RepositionOnUpdate(ctx, nil,
		sequencer.Record{ID: a, Position: 3, Groups: groups},
		sequencer.Record{ID: a, Position: 1, Groups: groups})
	require.NoError(t, err)
	store.find(a).pos = 3

	got := store.positions(key)
	assert.Equal(t, int64(3), got[a])
	assert.Equal(t, int64(1), got[ids[1]])
	assert.Equal(t, int64(2), got[ids[2]])
	assert.Equal(t, int64(4), got[ids[3]], "rows outside the window stay put")
}

func TestRepositionOnUpdate_SamePositionIsNoop(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	ids := seedGroup(store, key, 3)

	err := seq.RepositionOnUpdate(ctx, nil,
		sequencer.Record{ID: ids[1], Position: 2, Groups: groups},
		sequencer.Record{ID: ids[1], Position: 2, Groups: groups})
	require.NoError(t, err)
	assert.Empty(t, store.shifts)
}

func TestRepositionOnUpdate_GroupChangeRunsBothHalves(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	oldGroups, oldKey := groupOf(seq, "b1", "todo")
	newGroups, newKey := groupOf(seq, "b2", "todo")

	oldIDs := seedGroup(store, oldKey, 3)
	newIDs := seedGroup(store, newKey, 3)
	moving := oldIDs[1] // position 2 in the old group

	err := seq.RepositionOnUpdate(ctx, nil,
		sequencer.Record{ID: moving, Position: 2, Groups: newGroups},
		sequencer.Record{ID: moving, Position: 2, Groups: oldGroups})
	require.NoError(t, err)

	// Host writes the record's own row: new group, declared position.
	row := store.find(moving)
	row.key = newKey
	row.pos = 2

	oldGot := store.positions(oldKey)
	assert.Equal(t, int64(1), oldGot[oldIDs[0]])
	assert.Equal(t, int64(2), oldGot[oldIDs[2]], "gap behind the leaver closes")

	newGot := store.positions(newKey)
	assert.Equal(t, int64(1), newGot[newIDs[0]])
	assert.Equal(t, int64(3), newGot[newIDs[1]], "slot opens for the incomer")
	assert.Equal(t, int64(4), newGot[newIDs[2]])
	assert.Equal(t, int64(2), newGot[moving])

	require.NoError(t, sequencer.CheckContiguity(toRefs(store.inScope(oldKey))))
	require.NoError(t, sequencer.CheckContiguity(toRefs(store.inScope(newKey))))
}

func TestRepositionOnUpdate_MultiGroupChangeWarns(t *testing.T) {
	ctx := context.Background()
	seq, store, handler := newTestSequencer(t)
	oldGroups, oldKey := groupOf(seq, "b1", "todo")
	newGroups, _ := groupOf(seq, "b2", "done")
	moving := seedGroup(store, oldKey, 1)[0]

	err := seq.RepositionOnUpdate(ctx, nil,
		sequencer.Record{ID: moving, Position: 1, Groups: newGroups},
		sequencer.Record{ID: moving, Position: 1, Groups: oldGroups})
	require.NoError(t, err, "double group change is best effort, not an error")

	warnings := handler.MessagesAt(slog.LevelWarn)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "best effort")
}

func TestCloseGapOnDelete(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	ids := seedGroup(store, key, 4)

	// Host deletes the row at position 2 first.
	deleted := sequencer.Record{ID: ids[1], Position: 2, Groups: groups}
	store.remove(ids[1])

	require.NoError(t, seq.CloseGapOnDelete(ctx, nil, deleted))

	got := store.positions(key)
	assert.Equal(t, int64(1), got[ids[0]])
	assert.Equal(t, int64(2), got[ids[2]])
	assert.Equal(t, int64(3), got[ids[3]])
	require.NoError(t, sequencer.CheckContiguity(toRefs(store.inScope(key))))
}

func TestShift_EmptySetIsNoop(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)

	require.NoError(t, seq.Shift(ctx, nil, nil, sequencer.ShiftUp))
	assert.Empty(t, store.shifts, "raw patch must not run for an empty set")
}

func TestVerifyGroup(t *testing.T) {
	ctx := context.Background()
	seq, store, _ := newTestSequencer(t)
	groups, key := groupOf(seq, "b1", "todo")
	seedGroup(store, key, 3)

	require.NoError(t, seq.VerifyGroup(ctx, nil, groups))

	store.add(key, idwrap.NewNow(), 5)
	err := seq.VerifyGroup(ctx, nil, groups)
	require.ErrorIs(t, err, sequencer.ErrSequenceCorrupt)
}

func TestLockGroups_SerializesSameGroup(t *testing.T) {
	seq, _, _ := newTestSequencer(t)
	groups, _ := groupOf(seq, "b1", "todo")
	other, _ := groupOf(seq, "b2", "todo")

	unlock := seq.LockGroups(groups)
	acquired := make(chan struct{})
	go func() {
		u := seq.LockGroups(groups, other)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second writer acquired the group lock while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second writer never acquired the released lock")
	}
}
