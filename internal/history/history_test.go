package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"voxedit/internal/operation"
	"voxedit/internal/world"
)

type memWorld struct {
	blocks  map[world.Position]world.Block
	blocked map[world.Position]bool
	settled []world.Position
}

func newMemWorld() *memWorld {
	return &memWorld{blocks: map[world.Position]world.Block{}, blocked: map[world.Position]bool{}}
}

func (w *memWorld) Write(p world.Position, b world.Block, _ bool) error {
	if w.blocked[p] {
		return world.ErrNotResident
	}
	w.blocks[p] = b
	return nil
}

func (w *memWorld) Settle(positions []world.Position) world.SettleReport {
	w.settled = append(w.settled, positions...)
	return world.SettleReport{}
}

func unitFor(actor string, changes ...operation.Change) *operation.UndoUnit {
	return operation.NewUndoUnit(actor, "test edit", changes)
}

func change(x int, before, after string) operation.Change {
	return operation.Change{Pos: world.Pos(x, 0, 0), Before: world.B(before), After: world.B(after)}
}

func TestUndoRedoRestoresValues(t *testing.T) {
	w := newMemWorld()
	h := NewManager(10, nil)
	unit := unitFor("alice", change(0, "stone", "gold_block"), change(1, "dirt", "gold_block"))
	for _, c := range unit.Changes() {
		w.blocks[c.Pos] = c.After
	}
	h.Record(unit)

	result, ok := h.Undo("alice", w)
	require.True(t, ok)
	assert.Equal(t, ReplayResult{Description: "test edit", Applied: 2}, result)
	assert.Equal(t, world.B("stone"), w.blocks[world.Pos(0, 0, 0)])
	assert.Equal(t, world.B("dirt"), w.blocks[world.Pos(1, 0, 0)])
	assert.Len(t, w.settled, 2)

	_, ok = h.Redo("alice", w)
	require.True(t, ok)
	assert.Equal(t, world.B("gold_block"), w.blocks[world.Pos(0, 0, 0)])
	assert.Equal(t, world.B("gold_block"), w.blocks[world.Pos(1, 0, 0)])
	assert.Equal(t, 1, h.UndoDepth("alice"))
	assert.Zero(t, h.RedoDepth("alice"))
}

func TestRecordClearsRedo(t *testing.T) {
	w := newMemWorld()
	h := NewManager(10, nil)
	h.Record(unitFor("alice", change(0, "air", "stone")))
	_, ok := h.Undo("alice", w)
	require.True(t, ok)
	require.Equal(t, 1, h.RedoDepth("alice"))

	h.Record(unitFor("alice", change(1, "air", "dirt")))
	_, ok = h.Redo("alice", w)
	assert.False(t, ok, "redo after a new record must report nothing to redo")
}

func TestStacksArePerActor(t *testing.T) {
	w := newMemWorld()
	h := NewManager(10, nil)
	h.Record(unitFor("alice", change(0, "air", "stone")))

	_, ok := h.Undo("bob", w)
	assert.False(t, ok)
	_, ok = h.Undo("alice", w)
	assert.True(t, ok)
	_, ok = h.Undo("alice", w)
	assert.False(t, ok)
}

func TestCapacityEvictsOldest(t *testing.T) {
	w := newMemWorld()
	h := NewManager(3, nil)
	for i := 0; i < 5; i++ {
		h.Record(unitFor("alice", change(i, "air", "stone")))
	}
	require.Equal(t, 3, h.UndoDepth("alice"))

	var undone []world.Position
	for {
		_, ok := h.Undo("alice", w)
		if !ok {
			break
		}
		for p, b := range w.blocks {
			if b.IsAir() {
				undone = append(undone, p)
				delete(w.blocks, p)
			}
		}
	}
	assert.ElementsMatch(t, []world.Position{world.Pos(4, 0, 0), world.Pos(3, 0, 0), world.Pos(2, 0, 0)}, undone)
}

func TestEmptyUnitsAreNotRecorded(t *testing.T) {
	h := NewManager(3, nil)
	h.Record(unitFor("alice", change(0, "stone", "stone")))
	h.Record(nil)
	assert.Zero(t, h.UndoDepth("alice"))
}

func TestReplaySkipsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newMemWorld()
	h := NewManager(10, zap.New(core))
	h.Record(unitFor("alice", change(0, "stone", "air"), change(1, "stone", "air"), change(2, "stone", "air")))

	w.blocked[world.Pos(1, 0, 0)] = true
	result, ok := h.Undo("alice", w)
	require.True(t, ok)
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, world.B("stone"), w.blocks[world.Pos(2, 0, 0)])
	assert.Equal(t, 1, h.RedoDepth("alice"), "a partially replayed unit still counts as undone")

	entries := logs.FilterMessage("replay skipped position").All()
	require.Len(t, entries, 1)
	err, _ := entries[0].ContextMap()["error"].(string)
	assert.Contains(t, err, "not resident")
}
