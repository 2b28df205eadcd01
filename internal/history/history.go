// Package history keeps per-actor undo and redo stacks.
package history

import (
	"go.uber.org/zap"

	"voxedit/internal/operation"
	"voxedit/internal/world"
)

const DefaultCapacity = 25

// ReplayResult counts the outcome of replaying one unit.
type ReplayResult struct {
	Description string
	Applied     int
	Skipped     int
}

type stacks struct {
	undo []*operation.UndoUnit
	redo []*operation.UndoUnit
}

// Manager is not safe for concurrent use; it belongs to the simulation loop.
type Manager struct {
	capacity int
	actors   map[string]*stacks
	logger   *zap.Logger
}

func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		capacity: capacity,
		actors:   make(map[string]*stacks),
		logger:   logger.Named("history"),
	}
}

func (m *Manager) stacksFor(actor string) *stacks {
	s, ok := m.actors[actor]
	if !ok {
		s = &stacks{}
		m.actors[actor] = s
	}
	return s
}

// Record pushes unit onto its actor's undo stack, evicting the oldest entry
// beyond capacity, and clears that actor's redo stack. Empty units are
// ignored.
func (m *Manager) Record(unit *operation.UndoUnit) {
	if unit == nil || unit.Affected() == 0 {
		return
	}
	s := m.stacksFor(unit.Actor())
	s.undo = pushBounded(s.undo, unit, m.capacity)
	clear(s.redo)
	s.redo = s.redo[:0]
}

func pushBounded(stack []*operation.UndoUnit, unit *operation.UndoUnit, capacity int) []*operation.UndoUnit {
	stack = append(stack, unit)
	if over := len(stack) - capacity; over > 0 {
		clear(stack[:over])
		stack = append(stack[:0], stack[over:]...)
	}
	return stack
}

func pop(stack []*operation.UndoUnit) ([]*operation.UndoUnit, *operation.UndoUnit) {
	if len(stack) == 0 {
		return stack, nil
	}
	last := len(stack) - 1
	unit := stack[last]
	stack[last] = nil
	return stack[:last], unit
}

// Undo reapplies the previous values of the actor's most recent unit and
// moves it to the redo stack. It reports false when there is nothing to undo.
func (m *Manager) Undo(actor string, w world.Writer) (ReplayResult, bool) {
	s := m.stacksFor(actor)
	var unit *operation.UndoUnit
	s.undo, unit = pop(s.undo)
	if unit == nil {
		return ReplayResult{}, false
	}
	result := m.replay(unit, w, true)
	s.redo = pushBounded(s.redo, unit, m.capacity)
	return result, true
}

// Redo mirrors Undo with the new values.
func (m *Manager) Redo(actor string, w world.Writer) (ReplayResult, bool) {
	s := m.stacksFor(actor)
	var unit *operation.UndoUnit
	s.redo, unit = pop(s.redo)
	if unit == nil {
		return ReplayResult{}, false
	}
	result := m.replay(unit, w, false)
	s.undo = pushBounded(s.undo, unit, m.capacity)
	return result, true
}

type settler interface {
	Settle(positions []world.Position) world.SettleReport
}

// replay writes every change independently in stored order. A change that
// cannot be written is logged and skipped; the rest still apply.
func (m *Manager) replay(unit *operation.UndoUnit, w world.Writer, undo bool) ReplayResult {
	result := ReplayResult{Description: unit.Description()}
	touched := make([]world.Position, 0, unit.Affected())
	unit.Each(func(c operation.Change) bool {
		value := c.After
		if undo {
			value = c.Before
		}
		if err := w.Write(c.Pos, value, false); err != nil {
			m.logger.Warn("replay skipped position",
				zap.String("actor", unit.Actor()),
				zap.Stringer("pos", c.Pos),
				zap.Bool("undo", undo),
				zap.Error(err))
			result.Skipped++
			return true
		}
		touched = append(touched, c.Pos)
		result.Applied++
		return true
	})
	if s, ok := w.(settler); ok && len(touched) > 0 {
		s.Settle(touched)
	}
	m.logger.Info("replayed unit",
		zap.String("actor", unit.Actor()),
		zap.String("description", unit.Description()),
		zap.Bool("undo", undo),
		zap.Int("applied", result.Applied),
		zap.Int("skipped", result.Skipped))
	return result
}

func (m *Manager) UndoDepth(actor string) int { return len(m.stacksFor(actor).undo) }
func (m *Manager) RedoDepth(actor string) int { return len(m.stacksFor(actor).redo) }

// Clear drops both stacks of actor.
func (m *Manager) Clear(actor string) {
	delete(m.actors, actor)
}
