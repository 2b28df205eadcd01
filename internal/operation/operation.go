// Package operation computes reversible bulk edits against a read-only view
// of the world.
package operation

import (
	"context"

	"voxedit/internal/mask"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

// cancelCheckInterval is how many candidate positions are visited between
// context checks.
const cancelCheckInterval = 4096

// Env is what an operation may read while executing. World is expected to be
// a snapshot covering Bounds(); operations never touch the live world.
type Env struct {
	Actor string
	World world.Reader
}

// Operation computes the before/after pairs of an edit without applying them.
type Operation interface {
	Execute(ctx context.Context, env Env) (*UndoUnit, error)
	// VolumeEstimate is an upper bound on the positions visited, used for
	// size limiting before any work starts.
	VolumeEstimate() int
	Describe() string
	// Bounds is the region Execute reads from.
	Bounds() world.Region
}

// Change is one value transition.
type Change struct {
	Pos    world.Position
	Before world.Block
	After  world.Block
}

// UndoUnit is the ordered record of one operation's effect. It is only built
// inside this package and is read-only afterwards.
type UndoUnit struct {
	actor       string
	description string
	changes     []Change
}

func newUndoUnit(actor, description string) *UndoUnit {
	return &UndoUnit{actor: actor, description: description}
}

// NewUndoUnit builds a unit from existing changes, dropping no-op pairs.
func NewUndoUnit(actor, description string, changes []Change) *UndoUnit {
	u := newUndoUnit(actor, description)
	for _, c := range changes {
		u.add(c.Pos, c.Before, c.After)
	}
	return u
}

func (u *UndoUnit) add(pos world.Position, before, after world.Block) bool {
	before, after = before.Normalize(), after.Normalize()
	if before == after {
		return false
	}
	u.changes = append(u.changes, Change{Pos: pos, Before: before, After: after})
	return true
}

func (u *UndoUnit) Actor() string       { return u.actor }
func (u *UndoUnit) Description() string { return u.description }

// Affected is the number of positions the unit changes.
func (u *UndoUnit) Affected() int { return len(u.changes) }

func (u *UndoUnit) At(i int) Change { return u.changes[i] }

// Each visits changes in stored order.
func (u *UndoUnit) Each(fn func(Change) bool) {
	for _, c := range u.changes {
		if !fn(c) {
			return
		}
	}
}

// Changes returns a copy of the stored changes.
func (u *UndoUnit) Changes() []Change {
	return append([]Change(nil), u.changes...)
}

// collector turns candidate positions into changes.
type collector struct {
	ctx     context.Context
	env     Env
	mask    *mask.Mask
	unit    *UndoUnit
	visited int
}

func newCollector(ctx context.Context, env Env, m *mask.Mask, description string) *collector {
	return &collector{ctx: ctx, env: env, mask: m, unit: newUndoUnit(env.Actor, description)}
}

func (c *collector) tick() error {
	c.visited++
	if c.visited%cancelCheckInterval == 0 {
		return c.ctx.Err()
	}
	return nil
}

// current returns the masked, addressable value at p.
func (c *collector) current(p world.Position) (world.Block, bool) {
	before, ok := c.env.World.Block(p)
	if !ok {
		return world.Block{}, false
	}
	if c.mask != nil && !c.mask.Matches(before) {
		return world.Block{}, false
	}
	return before, true
}

func (c *collector) apply(p world.Position, pat *pattern.Pattern) error {
	if err := c.tick(); err != nil {
		return err
	}
	before, ok := c.current(p)
	if !ok {
		return nil
	}
	after, ok := pat.ValueAt(p)
	if !ok {
		return nil
	}
	c.unit.add(p, before, after)
	return nil
}

func (c *collector) set(p world.Position, after world.Block) error {
	if err := c.tick(); err != nil {
		return err
	}
	before, ok := c.current(p)
	if !ok {
		return nil
	}
	c.unit.add(p, before, after)
	return nil
}

func (c *collector) finish() (*UndoUnit, error) {
	if err := c.ctx.Err(); err != nil {
		return nil, err
	}
	return c.unit, nil
}

// grid is a dense buffer over a region used for multi-pass operations. Each
// pass writes into a fresh grid and never mutates the one it reads.
type grid struct {
	region world.Region
	cells  []world.Block
	known  []bool
}

func loadGrid(src world.Reader, r world.Region) *grid {
	g := &grid{region: r, cells: make([]world.Block, r.Volume()), known: make([]bool, r.Volume())}
	i := 0
	r.ForEach(func(p world.Position) bool {
		if b, ok := src.Block(p); ok {
			g.cells[i] = b.Normalize()
			g.known[i] = true
		}
		i++
		return true
	})
	return g
}

func (g *grid) clone() *grid {
	return &grid{
		region: g.region,
		cells:  append([]world.Block(nil), g.cells...),
		known:  append([]bool(nil), g.known...),
	}
}

func (g *grid) get(p world.Position) (world.Block, bool) {
	idx := g.region.Index(p)
	if idx < 0 || !g.known[idx] {
		return world.Air, false
	}
	return g.cells[idx], true
}

func (g *grid) set(p world.Position, b world.Block) {
	if idx := g.region.Index(p); idx >= 0 && g.known[idx] {
		g.cells[idx] = b.Normalize()
	}
}

// Block lets a grid stand in for a world.Reader.
func (g *grid) Block(p world.Position) (world.Block, bool) { return g.get(p) }
