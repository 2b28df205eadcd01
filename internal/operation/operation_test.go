package operation

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxedit/internal/clipboard"
	"voxedit/internal/mask"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

// testWorld is an in-memory reader where every position in bounds is
// addressable and defaults to air.
type testWorld struct {
	bounds world.Region
	blocks map[world.Position]world.Block
}

func newTestWorld() *testWorld {
	return &testWorld{
		bounds: world.NewRegion(world.Pos(-64, -64, -64), world.Pos(64, 64, 64)),
		blocks: make(map[world.Position]world.Block),
	}
}

func (w *testWorld) Block(p world.Position) (world.Block, bool) {
	if !w.bounds.Contains(p) {
		return world.Air, false
	}
	if b, ok := w.blocks[p]; ok {
		return b, true
	}
	return world.Air, true
}

func (w *testWorld) fill(r world.Region, b world.Block) {
	r.ForEach(func(p world.Position) bool {
		w.blocks[p] = b
		return true
	})
}

func (w *testWorld) apply(u *UndoUnit, undo bool) {
	u.Each(func(c Change) bool {
		if undo {
			w.blocks[c.Pos] = c.Before
		} else {
			w.blocks[c.Pos] = c.After
		}
		return true
	})
}

func single(name string) *pattern.Pattern { return pattern.Single(world.B(name)) }

func run(t *testing.T, w *testWorld, op Operation) *UndoUnit {
	t.Helper()
	unit, err := op.Execute(context.Background(), Env{Actor: "tester", World: w})
	require.NoError(t, err)
	require.NotNil(t, unit)
	return unit
}

func TestFillRoundTrip(t *testing.T) {
	w := newTestWorld()
	region := world.RegionAt(world.Pos(0, 0, 0), 5, 5, 5)
	w.fill(region, world.B("stone"))
	w.blocks[world.Pos(2, 2, 2)] = world.B("gold_block")

	unit := run(t, w, &Fill{Region: region, Pattern: single("gold_block")})
	assert.Equal(t, 124, unit.Affected())
	assert.Equal(t, "tester", unit.Actor())
	assert.Equal(t, "set gold_block", unit.Description())

	w.apply(unit, false)
	region.ForEach(func(p world.Position) bool {
		assert.Equal(t, world.B("gold_block"), w.blocks[p])
		return true
	})
	w.apply(unit, true)
	region.ForEach(func(p world.Position) bool {
		want := world.B("stone")
		if p == world.Pos(2, 2, 2) {
			want = world.B("gold_block")
		}
		assert.Equal(t, want, w.blocks[p])
		return true
	})
}

func TestFillChangesFollowIterationOrder(t *testing.T) {
	w := newTestWorld()
	region := world.RegionAt(world.Pos(0, 0, 0), 2, 2, 2)
	unit := run(t, w, &Fill{Region: region, Pattern: single("stone")})
	require.Equal(t, 8, unit.Affected())
	for i := range unit.Affected() {
		assert.Equal(t, i, region.Index(unit.At(i).Pos))
	}
}

func TestReplaceRequiresMask(t *testing.T) {
	_, err := NewReplace(world.RegionAt(world.Pos(0, 0, 0), 1, 1, 1), nil, single("stone"))
	assert.ErrorIs(t, err, ErrMaskRequired)

	w := newTestWorld()
	region := world.RegionAt(world.Pos(0, 0, 0), 3, 1, 1)
	w.blocks[world.Pos(0, 0, 0)] = world.B("dirt")
	w.blocks[world.Pos(1, 0, 0)] = world.B("stone")
	m, err := mask.Parse("dirt")
	require.NoError(t, err)
	op, err := NewReplace(region, m, single("grass_block"))
	require.NoError(t, err)

	unit := run(t, w, op)
	require.Equal(t, 1, unit.Affected())
	assert.Equal(t, Change{Pos: world.Pos(0, 0, 0), Before: world.B("dirt"), After: world.B("grass_block")}, unit.At(0))
	assert.Equal(t, "replace dirt with grass_block", unit.Description())
}

func TestShapes(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		want int
	}{
		{"sphere", &Sphere{Center: world.Pos(0, 0, 0), RadiusX: 2, Pattern: single("stone")}, 33},
		{"hollow sphere", &Sphere{Center: world.Pos(0, 0, 0), RadiusX: 2, Pattern: single("stone"), Hollow: true}, 26},
		{"pyramid", &Pyramid{Base: world.Pos(0, 0, 0), Size: 3, Pattern: single("stone")}, 25 + 9 + 1},
		{"cylinder", &Cylinder{Base: world.Pos(0, 0, 0), RadiusX: 1, Height: 4, Pattern: single("stone")}, 5 * 4},
		{"hollow cylinder", &Cylinder{Base: world.Pos(0, 0, 0), RadiusX: 1, Height: 4, Pattern: single("stone"), Hollow: true}, 4 * 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			unit := run(t, newTestWorld(), c.op)
			assert.Equal(t, c.want, unit.Affected())
			assert.GreaterOrEqual(t, c.op.VolumeEstimate(), unit.Affected())
			unit.Each(func(ch Change) bool {
				assert.True(t, c.op.Bounds().Contains(ch.Pos))
				return true
			})
		})
	}
}

func TestShapeRespectsMask(t *testing.T) {
	w := newTestWorld()
	w.fill(world.NewRegion(world.Pos(-3, -3, -3), world.Pos(3, -1, 3)), world.B("stone"))
	unit := run(t, w, &Sphere{Center: world.Pos(0, 0, 0), RadiusX: 2, Pattern: single("glass"), Mask: mask.Air()})
	unit.Each(func(ch Change) bool {
		assert.GreaterOrEqual(t, ch.Pos.Y, 0)
		return true
	})
}

func TestShellOperations(t *testing.T) {
	region := world.RegionAt(world.Pos(0, 0, 0), 4, 4, 4)

	unit := run(t, newTestWorld(), &Outline{Region: region, Pattern: single("stone")})
	assert.Equal(t, 64-8, unit.Affected())

	unit = run(t, newTestWorld(), &Walls{Region: region, Pattern: single("stone")})
	assert.Equal(t, 4*12, unit.Affected())

	w := newTestWorld()
	w.fill(region, world.B("stone"))
	unit = run(t, w, &Hollow{Region: region})
	assert.Equal(t, 8, unit.Affected())
	unit.Each(func(ch Change) bool {
		assert.True(t, ch.After.IsAir())
		return true
	})

	unit = run(t, w, &Hollow{Region: region, Shell: single("glass")})
	assert.Equal(t, 64, unit.Affected())
}

func TestShellTooThinDoesNothing(t *testing.T) {
	region := world.RegionAt(world.Pos(0, 0, 0), 4, 4, 4)
	w := newTestWorld()
	w.fill(region, world.B("stone"))

	for _, op := range []Operation{
		&Outline{Region: region, Pattern: single("glass"), Thickness: 3},
		&Walls{Region: region, Pattern: single("glass"), Thickness: 3},
		&Hollow{Region: region, Thickness: 3},
	} {
		unit := run(t, w, op)
		assert.Zero(t, unit.Affected(), op.Describe())
	}
}

func TestOverlay(t *testing.T) {
	w := newTestWorld()
	w.fill(world.RegionAt(world.Pos(0, 0, 0), 3, 2, 3), world.B("dirt"))
	w.blocks[world.Pos(1, 2, 1)] = world.B("stone")

	unit := run(t, w, &Overlay{Region: world.RegionAt(world.Pos(0, 0, 0), 3, 4, 3), Pattern: single("snow")})
	assert.Equal(t, 9, unit.Affected())
	w.apply(unit, false)
	assert.Equal(t, world.B("snow"), w.blocks[world.Pos(1, 3, 1)])
	assert.Equal(t, world.B("snow"), w.blocks[world.Pos(0, 2, 0)])
}

func TestSmoothRemovesSpike(t *testing.T) {
	w := newTestWorld()
	w.fill(world.NewRegion(world.Pos(-4, -3, -4), world.Pos(4, 0, 4)), world.B("stone"))
	w.blocks[world.Pos(0, 1, 0)] = world.B("stone")

	region := world.NewRegion(world.Pos(-2, -1, -2), world.Pos(2, 2, 2))
	unit := run(t, w, &Smooth{Region: region, Iterations: 2, HeightFactor: 1})
	require.Equal(t, 1, unit.Affected())
	assert.Equal(t, Change{Pos: world.Pos(0, 1, 0), Before: world.B("stone"), After: world.Air}, unit.At(0))
}

func TestSmoothHonoursConfidence(t *testing.T) {
	w := newTestWorld()
	w.blocks[world.Pos(0, 0, 0)] = world.B("stone")
	unit := run(t, w, &Smooth{Region: world.RegionAt(world.Pos(0, 0, 0), 1, 1, 1), MinConfidence: 1e9})
	assert.Zero(t, unit.Affected())
}

func TestPlurality(t *testing.T) {
	b, ok := plurality(map[world.Block]float64{world.B("a"): 2, world.B("b"): 1})
	assert.True(t, ok)
	assert.Equal(t, world.B("a"), b)
	_, ok = plurality(map[world.Block]float64{world.B("a"): 2, world.B("b"): 2})
	assert.False(t, ok)
}

func TestNaturalize(t *testing.T) {
	w := newTestWorld()
	region := world.RegionAt(world.Pos(0, 0, 0), 2, 10, 2)
	w.fill(region, world.B("stone"))
	w.blocks[world.Pos(0, 5, 0)] = world.B("bedrock")

	unit := run(t, w, &Naturalize{Region: region, Seed: 9})
	w.apply(unit, false)

	for _, col := range []world.Position{world.Pos(0, 0, 0), world.Pos(1, 0, 1)} {
		top := world.Pos(col.X, 9, col.Z)
		assert.Equal(t, world.B("grass_block"), w.blocks[top])
		assert.Equal(t, world.B("dirt"), w.blocks[top.Down()])
		assert.Equal(t, world.B("stone"), w.blocks[world.Pos(col.X, 1, col.Z)])
	}
	assert.Equal(t, world.B("bedrock"), w.blocks[world.Pos(0, 5, 0)])
}

func TestCaves(t *testing.T) {
	region := world.RegionAt(world.Pos(0, 0, 0), 24, 24, 24)
	build := func() *testWorld {
		w := newTestWorld()
		w.fill(region, world.B("stone"))
		return w
	}
	op := &Caves{Region: region, Seed: 4, Scale: 6, Threshold: 0.55, Ores: true}

	first := run(t, build(), op)
	second := run(t, build(), op)
	require.Equal(t, first.Changes(), second.Changes())
	require.NotZero(t, first.Affected())

	carved := map[world.Position]bool{}
	var ores []Change
	first.Each(func(c Change) bool {
		assert.Equal(t, world.B("stone"), c.Before)
		if c.After.IsAir() {
			carved[c.Pos] = true
		} else {
			ores = append(ores, c)
		}
		return true
	})
	require.NotEmpty(t, carved)
	for _, c := range ores {
		adjacent := false
		for _, offset := range world.Neighbors6 {
			adjacent = adjacent || carved[c.Pos.Add(offset)]
		}
		assert.True(t, adjacent, "ore at %v not next to an opening", c.Pos)
	}
}

func TestCavesOpenMoreAtDepth(t *testing.T) {
	region := world.RegionAt(world.Pos(0, 0, 0), 32, 20, 32)
	w := newTestWorld()
	w.fill(region, world.B("stone"))
	unit := run(t, w, &Caves{Region: region, Seed: 12, Scale: 5, Threshold: 0.7, DepthBias: 0.4})

	var top, bottom int
	unit.Each(func(c Change) bool {
		switch {
		case c.Pos.Y < 5:
			bottom++
		case c.Pos.Y >= 15:
			top++
		}
		return true
	})
	assert.Greater(t, bottom, top)
}

func TestPaste(t *testing.T) {
	buf := clipboard.New(world.Pos(0, 0, 0), 2, 1, 1)
	require.NoError(t, buf.Set(world.Pos(0, 0, 0), world.B("stone")))
	require.NoError(t, buf.Set(world.Pos(1, 0, 0), world.Air))

	w := newTestWorld()
	w.blocks[world.Pos(11, 0, 0)] = world.B("dirt")

	unit := run(t, w, &Paste{Clipboard: buf, At: world.Pos(10, 0, 0), SkipAir: true})
	require.Equal(t, 1, unit.Affected())
	assert.Equal(t, world.Pos(10, 0, 0), unit.At(0).Pos)

	unit = run(t, w, &Paste{Clipboard: buf, At: world.Pos(10, 0, 0)})
	assert.Equal(t, 2, unit.Affected())
}

func TestWeightedFillUsesPattern(t *testing.T) {
	p := pattern.Weighted(rand.New(rand.NewPCG(1, 2)))
	p.Add(single("stone"), 1).Add(single("dirt"), 1)
	unit := run(t, newTestWorld(), &Fill{Region: world.RegionAt(world.Pos(0, 0, 0), 10, 10, 10), Pattern: p})
	assert.Equal(t, 1000, unit.Affected())
}

func TestExecuteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	op := &Fill{Region: world.RegionAt(world.Pos(-50, -50, -50), 100, 100, 100), Pattern: single("stone")}
	_, err := op.Execute(ctx, Env{World: newTestWorld()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUnaddressablePositionsAreSkipped(t *testing.T) {
	w := newTestWorld()
	op := &Fill{Region: world.NewRegion(world.Pos(63, 0, 0), world.Pos(66, 0, 0)), Pattern: single("stone")}
	unit := run(t, w, op)
	assert.Equal(t, 2, unit.Affected())
}
