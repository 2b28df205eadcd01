package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voxedit/internal/config"
	"voxedit/internal/engine"
	"voxedit/internal/mask"
	"voxedit/internal/operation"
	"voxedit/internal/pattern"
	"voxedit/internal/world"
)

const benchActor = "bench"

type benchOptions struct {
	shape   string
	size    int
	pattern string
	mask    string
	hollow  bool
	undo    bool
	quiet   bool
}

var benchShapes = []string{"set", "sphere", "cylinder", "pyramid", "caves", "smooth", "naturalize"}

func newBenchCmd() *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run one edit against an in-process world and report how the pipeline behaved",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runBench(cmd, cfg, logger, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.shape, "shape", "sphere", "edit to run: "+strings.Join(benchShapes, ", "))
	f.IntVar(&opts.size, "size", 32, "edge length or diameter of the edit")
	f.StringVar(&opts.pattern, "pattern", "stone", "pattern for shape edits")
	f.StringVar(&opts.mask, "mask", "", "mask limiting which blocks change")
	f.BoolVar(&opts.hollow, "hollow", false, "only place the shell of the shape")
	f.BoolVar(&opts.undo, "undo", false, "undo the edit once it finished")
	f.BoolVar(&opts.quiet, "quiet", false, "suppress progress messages")
	return cmd
}

func runBench(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger, opts benchOptions) error {
	if opts.size <= 0 {
		return errors.New("--size must be positive")
	}
	out := cmd.OutOrStdout()
	var mu sync.Mutex
	notify := func(_ string, msg string) {
		if opts.quiet {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(out, msg)
	}

	ctx := cmd.Context()
	rt, err := startRuntime(ctx, cfg, logger, notify)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			logger.Warn("shutdown failed", zap.Error(cerr))
		}
	}()

	pat, err := rt.engine.ParsePattern(benchActor, opts.pattern)
	if err != nil {
		return err
	}
	mk, err := rt.engine.ParseMask(benchActor, opts.mask)
	if err != nil {
		return err
	}
	center := world.Pos(0, cfg.Terrain.SurfaceY, 0)
	op, err := buildOperation(opts, center, pat, mk, cfg.Terrain.Seed)
	if err != nil {
		return err
	}

	job, err := rt.engine.Execute(ctx, benchActor, op)
	if err != nil {
		return err
	}
	outcome, err := job.Wait(ctx)
	if err != nil {
		job.Cancel()
		return err
	}
	if !opts.quiet {
		fmt.Fprintln(out)
	}
	printOutcome(out, job, outcome, rt)

	if opts.undo && outcome.Placed > 0 {
		msg, err := rt.engine.Undo(ctx, benchActor)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg)
	}
	return outcome.Err
}

func printOutcome(w io.Writer, job *engine.Job, out engine.Outcome, rt *runtime) {
	fmt.Fprintf(w, "job:        %s\n", job.ID)
	fmt.Fprintf(w, "operation:  %s\n", job.Description)
	fmt.Fprintf(w, "state:      %s\n", out.State)
	fmt.Fprintf(w, "changed:    %d of %d (%d skipped)\n", out.Placed, out.Affected, out.Skipped)
	fmt.Fprintf(w, "elapsed:    %s\n", out.Elapsed)
	if rep, ok := job.Report(); ok {
		fmt.Fprintf(w, "batches:    %d (%d empty polls)\n", rep.Batches, rep.EmptyPolls)
		fmt.Fprintf(w, "settled:    %d fallen, %d neighbour updates\n", rep.Fallen, rep.NeighborUpdates)
		fmt.Fprintf(w, "failures:   %d residency, %d write\n", rep.ResidencyFailures, rep.WriteFailures)
		fmt.Fprintf(w, "controller: batch %d, delay %d ticks\n", rep.BatchSize, rep.DelayTicks)
	}
	stats := rt.monitor.Stats()
	fmt.Fprintf(w, "monitor:    %s (%.2f of target, mean tick %s over %d samples)\n",
		stats.Tier, stats.Throughput, stats.Mean, stats.Samples)
}

// buildOperation turns bench flags into an operation centred on center.
func buildOperation(opts benchOptions, center world.Position, pat *pattern.Pattern, mk *mask.Mask, seed int64) (operation.Operation, error) {
	size := opts.size
	half := size / 2
	cube := world.RegionAt(center.Sub(world.Pos(half, half, half)), size, size, size)
	radius := float64(size) / 2

	switch strings.ToLower(opts.shape) {
	case "set":
		return &operation.Fill{Region: cube, Pattern: pat, Mask: mk}, nil
	case "sphere":
		return &operation.Sphere{Center: center, RadiusX: radius, Pattern: pat, Mask: mk, Hollow: opts.hollow}, nil
	case "cylinder":
		base := center.Sub(world.Pos(0, half, 0))
		return &operation.Cylinder{Base: base, RadiusX: radius, Height: size, Pattern: pat, Mask: mk, Hollow: opts.hollow}, nil
	case "pyramid":
		return &operation.Pyramid{Base: center, Size: half + 1, Pattern: pat, Mask: mk, Hollow: opts.hollow}, nil
	case "caves":
		return &operation.Caves{Region: cube, Seed: seed, Ores: true}, nil
	case "smooth":
		return &operation.Smooth{Region: cube, Iterations: 2, Mask: mk}, nil
	case "naturalize":
		return &operation.Naturalize{Region: cube, Seed: seed}, nil
	default:
		return nil, fmt.Errorf("unknown shape %q (want one of %s)", opts.shape, strings.Join(benchShapes, ", "))
	}
}
