package operation

import (
	"context"
	"fmt"

	"voxedit/internal/mask"
	"voxedit/internal/terrain"
	"voxedit/internal/world"
)

var naturalMask = mask.Types(
	world.B("stone"), world.B("dirt"), world.B("grass_block"), world.B("coarse_dirt"),
	world.B("podzol"), world.B("granite"), world.B("diorite"), world.B("andesite"),
)

// Naturalize rebuilds the top layers of every column: grass on the surface, a
// noise-varied band of dirt below it, stone underneath. Only natural ground
// materials are rewritten.
type Naturalize struct {
	Region world.Region
	Seed   int64
	// DirtDepth is the mean dirt band thickness.
	DirtDepth int
}

func (n *Naturalize) Bounds() world.Region { return n.Region }
func (n *Naturalize) VolumeEstimate() int  { return n.Region.Volume() }
func (n *Naturalize) Describe() string     { return "naturalize" }

func (n *Naturalize) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	depth := n.DirtDepth
	if depth <= 0 {
		depth = 3
	}
	noise := terrain.NewNoise(n.Seed)
	source := loadGrid(env.World, n.Region)
	out := source.clone()

	lo, hi := n.Region.Min(), n.Region.Max()
	for z := lo.Z; z <= hi.Z; z++ {
		for x := lo.X; x <= hi.X; x++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			band := depth + int(noise.Value2D(float64(x)/8, float64(z)/8)*float64(depth)/2)
			below := -1
			for y := hi.Y; y >= lo.Y; y-- {
				p := world.Pos(x, y, z)
				b, ok := source.get(p)
				if !ok || b.IsAir() {
					below = -1
					continue
				}
				below++
				if !naturalMask.Matches(b) {
					continue
				}
				switch {
				case below == 0:
					out.set(p, world.B("grass_block"))
				case below <= band:
					out.set(p, world.B("dirt"))
				default:
					out.set(p, world.B("stone"))
				}
			}
		}
	}
	return diffGrids(ctx, env, source, out, n.Describe())
}

// Caves carves open space out of solid ground with 3D noise. Deeper cells
// are more likely to open. With Ores set, solid cells next to new openings
// may become ore picked per depth bucket.
type Caves struct {
	Region    world.Region
	Seed      int64
	Scale     float64
	Threshold float64
	DepthBias float64
	Ores      bool
}

type oreBand struct {
	chance float64
	block  world.Block
}

// Bucket bands, shallow to deep. Chances are cumulative within a bucket.
var caveOreBuckets = [3][]oreBand{
	{{0.08, world.B("coal_ore")}, {0.12, world.B("iron_ore")}, {0.14, world.B("copper_ore")}},
	{{0.06, world.B("iron_ore")}, {0.08, world.B("gold_ore")}, {0.11, world.B("redstone_ore")}, {0.13, world.B("lapis_ore")}},
	{{0.015, world.B("diamond_ore")}, {0.045, world.B("gold_ore")}, {0.095, world.B("redstone_ore")}, {0.115, world.B("lapis_ore")}},
}

func (c *Caves) params() (float64, float64, float64) {
	scale := c.Scale
	if scale <= 0 {
		scale = 12
	}
	threshold := c.Threshold
	if threshold == 0 {
		threshold = 0.6
	}
	bias := c.DepthBias
	if bias == 0 {
		bias = 0.25
	}
	return scale, threshold, bias
}

func (c *Caves) Bounds() world.Region { return c.Region }
func (c *Caves) VolumeEstimate() int  { return c.Region.Volume() }

func (c *Caves) Describe() string {
	scale, threshold, _ := c.params()
	if c.Ores {
		return fmt.Sprintf("caves scale=%g threshold=%g with ores", scale, threshold)
	}
	return fmt.Sprintf("caves scale=%g threshold=%g", scale, threshold)
}

func (c *Caves) depth(y int) float64 {
	h := c.Region.Height()
	if h <= 1 {
		return 0
	}
	return float64(c.Region.Max().Y-y) / float64(h-1)
}

func (c *Caves) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	scale, threshold, bias := c.params()
	shape := terrain.NewNoise(c.Seed)
	octaves := terrain.Octaves{Count: 2, Frequency: 1 / scale}

	source := loadGrid(env.World, c.Region)
	carved := source.clone()
	opened := make(map[world.Position]struct{})

	visited := 0
	var err error
	c.Region.ForEach(func(p world.Position) bool {
		visited++
		if visited%cancelCheckInterval == 0 {
			if err = ctx.Err(); err != nil {
				return false
			}
		}
		b, ok := source.get(p)
		if !ok || b.IsAir() {
			return true
		}
		v := (shape.Fractal3D(float64(p.X), float64(p.Y), float64(p.Z), octaves)+1)/2 + bias*c.depth(p.Y)
		if v > threshold {
			carved.set(p, world.Air)
			opened[p] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	result := carved
	if c.Ores && len(opened) > 0 {
		ores := terrain.NewNoise(c.Seed + 1)
		result = carved.clone()
		c.Region.ForEach(func(p world.Position) bool {
			b, ok := carved.get(p)
			if !ok || b.IsAir() {
				return true
			}
			adjacent := false
			for _, offset := range world.Neighbors6 {
				if _, ok := opened[p.Add(offset)]; ok {
					adjacent = true
					break
				}
			}
			if !adjacent {
				return true
			}
			bucket := min(int(c.depth(p.Y)*3), 2)
			roll := ores.Unit(p.X, p.Y, p.Z)
			for _, band := range caveOreBuckets[bucket] {
				if roll < band.chance {
					result.set(p, band.block)
					break
				}
			}
			return true
		})
	}
	return diffGrids(ctx, env, source, result, c.Describe())
}

// diffGrids records every position where after differs from before.
func diffGrids(ctx context.Context, env Env, before, after *grid, description string) (*UndoUnit, error) {
	c := newCollector(ctx, env, nil, description)
	for i, known := range before.known {
		if !known || before.cells[i] == after.cells[i] {
			continue
		}
		c.unit.add(positionAt(before.region, i), before.cells[i], after.cells[i])
	}
	return c.finish()
}

func positionAt(r world.Region, idx int) world.Position {
	w, h := r.Width(), r.Height()
	lo := r.Min()
	return world.Pos(lo.X+idx%w, lo.Y+(idx/w)%h, lo.Z+idx/(w*h))
}
