package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"voxedit/internal/config"
	"voxedit/internal/engine"
	"voxedit/internal/history"
	"voxedit/internal/journal"
	"voxedit/internal/metrics"
	"voxedit/internal/monitor"
	"voxedit/internal/pipeline"
	"voxedit/internal/sim"
	"voxedit/internal/terrain"
	"voxedit/internal/world"
)

// runtime is an in-process world with its loop and engine.
type runtime struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	world    *world.Manager
	monitor  *monitor.Monitor
	loop     *sim.Loop
	engine   *engine.Manager
	journal  *journal.Store

	cancel context.CancelFunc
}

func worldOptions(cfg *config.Config, logger *zap.Logger) world.Options {
	var storage world.StorageProvider
	if cfg.World.Storage.Kind == "disk" {
		storage = world.NewDiskStorageProvider(cfg.World.Storage.Path, cfg.World.Storage.SyncWrites, logger)
	} else {
		storage = world.NewMemoryStorageProvider()
	}
	t := cfg.Terrain
	gen := terrain.NewGenerator(terrain.Config{
		Seed:        t.Seed,
		Frequency:   t.Frequency,
		Octaves:     t.Octaves,
		Persistence: t.Persistence,
		Lacunarity:  t.Lacunarity,
		SurfaceY:    t.SurfaceY,
		Amplitude:   t.Amplitude,
		Workers:     t.Workers,
	}, logger)
	m := cfg.Materials
	return world.Options{
		Dimensions: world.Dimensions{
			Width:  cfg.World.ChunkWidth,
			Length: cfg.World.ChunkLength,
			MinY:   cfg.World.MinY,
			Height: cfg.World.Height(),
		},
		Origin:        world.ChunkCoord{X: cfg.World.Origin.X, Z: cfg.World.Origin.Z},
		ChunksPerAxis: cfg.World.ChunksPerAxis,
		Storage:       storage,
		Generator:     gen,
		Materials: world.NewMaterials(world.MaterialLists{
			Structural: m.Structural,
			Inert:      m.Inert,
			Gravity:    m.Gravity,
			Fluid:      m.Fluid,
			Redstone:   m.Redstone,
			Mechanism:  m.Mechanism,
		}),
		Logger: logger,
	}
}

func monitorConfig(cfg *config.Config) monitor.Config {
	return monitor.Config{
		TargetTick: cfg.Engine.TickRate.Duration(),
		Window:     cfg.Monitor.Window,
		Thresholds: monitor.Thresholds{
			Excellent: cfg.Monitor.Excellent,
			Good:      cfg.Monitor.Good,
			Fair:      cfg.Monitor.Fair,
			Poor:      cfg.Monitor.Poor,
		},
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	p := cfg.Pipeline
	return engine.Config{
		MaxVolume:           cfg.Engine.MaxVolume,
		OperationsPerSecond: cfg.Engine.OperationsPerSecond,
		OperationBurst:      cfg.Engine.OperationBurst,
		Pipeline: pipeline.Config{
			MinBatch:         p.MinBatch,
			MaxBatch:         p.MaxBatch,
			InitialBatch:     p.InitialBatch,
			ChunkSize:        p.ChunkSize,
			Workers:          p.Workers,
			QueueCapacity:    p.QueueCapacity,
			AdjustEvery:      p.AdjustEvery,
			MaxDelayTicks:    p.MaxDelayTicks,
			EmptyPollConfirm: p.EmptyPollConfirm,
			ProgressStep:     p.ProgressStep,
		},
		Seed: cfg.Terrain.Seed,
	}
}

// startRuntime builds every component from cfg and starts the loop.
func startRuntime(ctx context.Context, cfg *config.Config, logger *zap.Logger, notify func(actor, msg string)) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		rt.journal = store
	}

	rt.world = world.NewManager(worldOptions(cfg, logger))
	rt.monitor = monitor.New(monitorConfig(cfg))
	rt.monitor.Start()
	rt.loop = sim.New(sim.Options{
		TickRate: cfg.Engine.TickRate.Duration(),
		Monitor:  rt.monitor,
		Logger:   logger,
	})

	loopCtx, cancel := context.WithCancel(ctx)
	rt.cancel = cancel
	rt.loop.Start(loopCtx)

	rt.engine = engine.New(engine.Options{
		Config:          engineConfig(cfg),
		World:           rt.world,
		Loop:            rt.loop,
		Monitor:         rt.monitor,
		History:         history.NewManager(cfg.History.Capacity, logger),
		Journal:         rt.journal,
		Metrics:         metrics.NewEngine(rt.registry),
		PipelineMetrics: metrics.NewPipeline(rt.registry),
		Logger:          logger,
		Notify:          notify,
	})
	return rt, nil
}

// Close stops the engine before the loop it depends on.
func (rt *runtime) Close() error {
	rt.engine.Close()
	rt.cancel()
	rt.loop.Wait()
	rt.monitor.Stop()

	var errs []error
	if err := rt.world.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close world: %w", err))
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
