package terrain

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"voxedit/internal/world"
)

// Config shapes generated terrain.
type Config struct {
	Seed        int64
	Frequency   float64
	Octaves     int
	Persistence float64
	Lacunarity  float64
	SurfaceY    int
	Amplitude   float64
	Workers     int
}

// Generator fills freshly resident chunks with layered terrain: a bedrock
// floor, stone with scattered ore, a dirt band and a grass surface.
type Generator struct {
	cfg    Config
	noise  Noise
	ores   Noise
	logger *zap.Logger
}

func NewGenerator(cfg Config, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		cfg:    cfg,
		noise:  NewNoise(cfg.Seed),
		ores:   NewNoise(cfg.Seed ^ 0x5DEECE66D),
		logger: logger.Named("terrain"),
	}
}

func (g *Generator) octaves() Octaves {
	return Octaves{
		Count:       g.cfg.Octaves,
		Frequency:   g.cfg.Frequency,
		Persistence: g.cfg.Persistence,
		Lacunarity:  g.cfg.Lacunarity,
	}
}

// SurfaceHeight returns the grass level of column (x, z).
func (g *Generator) SurfaceHeight(x, z int) int {
	n := g.noise.Fractal2D(float64(x), float64(z), g.octaves())
	return g.cfg.SurfaceY + int(n*g.cfg.Amplitude)
}

var (
	bedrock = world.B("bedrock")
	stone   = world.B("stone")
	dirt    = world.B("dirt")
	grass   = world.B("grass_block")

	oreBands = []struct {
		depth  int
		chance float64
		block  world.Block
	}{
		{depth: 48, chance: 0.004, block: world.B("diamond_ore")},
		{depth: 32, chance: 0.008, block: world.B("gold_ore")},
		{depth: 16, chance: 0.015, block: world.B("iron_ore")},
		{depth: 4, chance: 0.02, block: world.B("coal_ore")},
	}
)

func (g *Generator) column(x, z int, dim world.Dimensions) []world.Block {
	surface := min(max(g.SurfaceHeight(x, z), dim.MinY), dim.MaxY())
	column := make([]world.Block, surface-dim.MinY+1)
	for i := range column {
		y := dim.MinY + i
		depth := surface - y
		switch {
		case i == 0:
			column[i] = bedrock
		case depth == 0:
			column[i] = grass
		case depth <= 3:
			column[i] = dirt
		default:
			column[i] = g.stoneAt(x, y, z, depth)
		}
	}
	return column
}

func (g *Generator) stoneAt(x, y, z, depth int) world.Block {
	roll := g.ores.Unit(x, y, z)
	for _, band := range oreBands {
		if depth >= band.depth && roll < band.chance {
			return band.block
		}
	}
	return stone
}

func (g *Generator) workerCount(columns int) int {
	workers := g.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return max(1, min(workers, columns))
}

// Generate populates chunk column by column on a small worker pool and logs
// progress in 10% steps.
func (g *Generator) Generate(ctx context.Context, chunk *world.Chunk) error {
	dim := chunk.Dimensions()
	total := dim.Width * dim.Length
	if total <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type columnTask struct{ lx, lz int }
	type columnResult struct {
		lx, lz int
		blocks []world.Block
	}

	workers := g.workerCount(total)
	tasks := make(chan columnTask, workers)
	results := make(chan columnResult, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range tasks {
				blocks := g.column(chunk.Origin.X+task.lx, chunk.Origin.Z+task.lz, dim)
				select {
				case results <- columnResult{lx: task.lx, lz: task.lz, blocks: blocks}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	go func() {
		defer close(tasks)
		for lz := 0; lz < dim.Length; lz++ {
			for lx := 0; lx < dim.Width; lx++ {
				select {
				case tasks <- columnTask{lx: lx, lz: lz}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := 0
	nextLog := 10
	for result := range results {
		if err := chunk.SetColumnBlocks(result.lx, result.lz, result.blocks); err != nil {
			cancel()
			for range results {
			}
			return err
		}
		done++
		if percent := done * 100 / total; percent >= nextLog {
			g.logger.Debug("chunk generation progress",
				zap.Stringer("chunk", chunk.Key), zap.Int("percent", percent))
			for nextLog <= percent {
				nextLog += 10
			}
		}
	}
	return ctx.Err()
}
