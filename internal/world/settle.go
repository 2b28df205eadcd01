package world

import (
	"go.uber.org/zap"
)

// BlockChange records one value transition caused by settling.
type BlockChange struct {
	Pos    Position
	Before Block
	After  Block
}

// SettleReport summarises the cascading work done by Settle.
type SettleReport struct {
	Fallen          int
	NeighborUpdates int
	Changes         []BlockChange
}

func (r *SettleReport) add(pos Position, before, after Block) {
	r.Changes = append(r.Changes, BlockChange{Pos: pos, Before: before, After: after})
}

// Merge folds other into r.
func (r *SettleReport) Merge(other SettleReport) {
	r.Fallen += other.Fallen
	r.NeighborUpdates += other.NeighborUpdates
	r.Changes = append(r.Changes, other.Changes...)
}

func (m *Manager) residentBlock(p Position) (Block, bool) {
	if !m.addressable(p) {
		return Air, false
	}
	m.mu.RLock()
	ch, ok := m.chunks[m.ChunkOf(p)]
	m.mu.RUnlock()
	if !ok {
		return Air, false
	}
	b, err := ch.Block(p)
	if err != nil {
		return Air, false
	}
	return b, true
}

func (m *Manager) setResident(p Position, b Block) bool {
	m.mu.RLock()
	ch, ok := m.chunks[m.ChunkOf(p)]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	if _, err := ch.SetBlock(p, b); err != nil {
		m.logger.Warn("settle write failed", zap.Stringer("pos", p), zap.Error(err))
		return false
	}
	return true
}

// Settle runs the side effects that deferred writes skipped. Gravity blocks
// drop through air and fluids until they rest on something solid, and the
// cells they vacate are re-checked so stacked columns cascade. Fluid,
// redstone and mechanism cells notify their six neighbours. Only resident
// chunks are touched.
func (m *Manager) Settle(positions []Position) SettleReport {
	var report SettleReport
	if len(positions) == 0 {
		return report
	}

	queued := make(map[Position]struct{}, len(positions)*2)
	queue := make([]Position, 0, len(positions)*2)
	push := func(p Position) {
		if _, ok := queued[p]; ok {
			return
		}
		queued[p] = struct{}{}
		queue = append(queue, p)
	}
	for _, p := range positions {
		push(p)
		push(p.Up())
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		delete(queued, current)

		block, ok := m.residentBlock(current)
		if !ok || block.IsAir() {
			continue
		}

		switch m.materials.Class(block) {
		case ClassGravity:
			landing := current
			for {
				below := landing.Down()
				under, ok := m.residentBlock(below)
				if !ok || m.materials.IsSolid(under) {
					break
				}
				landing = below
			}
			if landing == current {
				continue
			}
			displaced, _ := m.residentBlock(landing)
			if !m.setResident(current, Air) {
				continue
			}
			if !m.setResident(landing, block) {
				m.setResident(current, block)
				continue
			}
			report.Fallen++
			report.add(current, block, Air)
			report.add(landing, displaced, block)
			push(current.Up())
		case ClassFluid, ClassRedstone, ClassMechanism:
			for _, offset := range Neighbors6 {
				neighbor := current.Add(offset)
				if !m.addressable(neighbor) {
					continue
				}
				report.NeighborUpdates++
				if m.NeighborUpdate != nil {
					m.NeighborUpdate(neighbor)
				}
			}
		}
	}

	if report.Fallen > 0 {
		m.logger.Debug("settled positions",
			zap.Int("requested", len(positions)),
			zap.Int("fallen", report.Fallen),
			zap.Int("neighbor_updates", report.NeighborUpdates))
	}
	return report
}
