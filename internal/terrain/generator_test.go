package terrain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"voxedit/internal/world"
)

func TestNoiseIsDeterministicAndBounded(t *testing.T) {
	a, b := NewNoise(7), NewNoise(7)
	other := NewNoise(8)
	differs := false
	for i := 0; i < 200; i++ {
		x, y, z := float64(i)*0.37, float64(i)*0.11, float64(i)*0.73
		v := a.Fractal3D(x, y, z, Octaves{Count: 3, Frequency: 0.5})
		require.Equal(t, v, b.Fractal3D(x, y, z, Octaves{Count: 3, Frequency: 0.5}))
		require.GreaterOrEqual(t, v, -1.0)
		require.LessOrEqual(t, v, 1.0)
		if other.Value2D(x, z) != a.Value2D(x, z) {
			differs = true
		}
		u := a.Unit(i, -i, i*3)
		require.GreaterOrEqual(t, u, 0.0)
		require.Less(t, u, 1.0)
	}
	assert.True(t, differs, "different seeds should produce different fields")
}

func TestNoiseIsContinuousAtLatticePoints(t *testing.T) {
	n := NewNoise(3)
	for _, x := range []float64{1, 2, 5} {
		left := n.Value2D(x-1e-9, 0.5)
		right := n.Value2D(x+1e-9, 0.5)
		assert.InDelta(t, left, right, 1e-6)
	}
}

func TestGeneratorLayersColumns(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	gen := NewGenerator(Config{Seed: 42, Frequency: 0.05, Octaves: 2, SurfaceY: 10, Amplitude: 3, Workers: 3}, zap.New(core))

	dim := world.Dimensions{Width: 4, Length: 4, MinY: 0, Height: 32}
	chunk := world.NewChunk(world.ChunkCoord{X: 1, Z: -1}, dim, mustStorage(t, dim))
	require.NoError(t, gen.Generate(context.Background(), chunk))

	for lz := 0; lz < dim.Length; lz++ {
		for lx := 0; lx < dim.Width; lx++ {
			x, z := chunk.Origin.X+lx, chunk.Origin.Z+lz
			surface := gen.SurfaceHeight(x, z)
			require.InDelta(t, 10, surface, 3)

			b, err := chunk.Block(world.Pos(x, 0, z))
			require.NoError(t, err)
			assert.Equal(t, world.B("bedrock"), b)

			b, _ = chunk.Block(world.Pos(x, surface, z))
			assert.Equal(t, world.B("grass_block"), b)
			b, _ = chunk.Block(world.Pos(x, surface-1, z))
			assert.Equal(t, world.B("dirt"), b)
			b, _ = chunk.Block(world.Pos(x, surface+1, z))
			assert.True(t, b.IsAir())
		}
	}

	progress := logs.FilterMessage("chunk generation progress").All()
	require.NotEmpty(t, progress)
	assert.EqualValues(t, 100, progress[len(progress)-1].ContextMap()["percent"])
}

func TestGeneratorHonoursCancellation(t *testing.T) {
	gen := NewGenerator(Config{Seed: 1, SurfaceY: 4}, nil)
	dim := world.Dimensions{Width: 16, Length: 16, Height: 8}
	chunk := world.NewChunk(world.ChunkCoord{}, dim, mustStorage(t, dim))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, gen.Generate(ctx, chunk), context.Canceled)
}

func mustStorage(t *testing.T, dim world.Dimensions) world.BlockStorage {
	t.Helper()
	store, err := world.NewMemoryStorageProvider().NewStorage(world.ChunkCoord{}, dim)
	require.NoError(t, err)
	return store
}
