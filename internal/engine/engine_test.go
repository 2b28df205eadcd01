package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxedit/internal/clipboard"
	"voxedit/internal/history"
	"voxedit/internal/journal"
	"voxedit/internal/metrics"
	"voxedit/internal/monitor"
	"voxedit/internal/operation"
	"voxedit/internal/pipeline"
	"voxedit/internal/sim"
	"voxedit/internal/world"
)

type floorGenerator struct{}

func (floorGenerator) Generate(_ context.Context, chunk *world.Chunk) error {
	dim := chunk.Dimensions()
	for lz := 0; lz < dim.Length; lz++ {
		for lx := 0; lx < dim.Width; lx++ {
			if err := chunk.SetColumnBlocks(lx, lz, []world.Block{world.B("bedrock")}); err != nil {
				return err
			}
		}
	}
	return nil
}

type messages struct {
	mu   sync.Mutex
	byID map[string][]string
}

func (m *messages) add(actor, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[actor] = append(m.byID[actor], msg)
}

func (m *messages) of(actor string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.byID[actor]...)
}

type harness struct {
	t      *testing.T
	world  *world.Manager
	loop   *sim.Loop
	engine *Manager
	reg    *prometheus.Registry
	msgs   *messages
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	w := world.NewManager(world.Options{
		Dimensions:    world.Dimensions{Width: 16, Length: 16, MinY: 0, Height: 64},
		Origin:        world.ChunkCoord{X: -2, Z: -2},
		ChunksPerAxis: 4,
		Generator:     floorGenerator{},
	})
	mon := monitor.New(monitor.Config{TargetTick: time.Millisecond})
	mon.Start()
	loop := sim.New(sim.Options{TickRate: time.Millisecond, Monitor: mon})
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)

	reg := prometheus.NewRegistry()
	msgs := &messages{byID: make(map[string][]string)}
	opts := Options{
		Config: Config{
			MaxVolume: 100_000,
			Pipeline: pipeline.Config{
				MinBatch:     64,
				MaxBatch:     4096,
				InitialBatch: 512,
				ChunkSize:    256,
				Workers:      2,
				ProgressStep: 25,
			},
			Seed: 7,
		},
		World:           w,
		Loop:            loop,
		Monitor:         mon,
		History:         history.NewManager(10, nil),
		Metrics:         metrics.NewEngine(reg),
		PipelineMetrics: metrics.NewPipeline(reg),
		Notify:          msgs.add,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := New(opts)
	t.Cleanup(func() {
		e.Close()
		cancel()
		loop.Wait()
		_ = w.Close()
	})
	return &harness{t: t, world: w, loop: loop, engine: e, reg: reg, msgs: msgs}
}

func (h *harness) block(p world.Position) world.Block {
	h.t.Helper()
	var b world.Block
	require.NoError(h.t, h.loop.Do(context.Background(), func() { b, _ = h.world.Block(p) }))
	return b
}

func (h *harness) fill(actor string, r world.Region, patternText string) Outcome {
	h.t.Helper()
	p, err := h.engine.ParsePattern(actor, patternText)
	require.NoError(h.t, err)
	job, err := h.engine.Execute(context.Background(), actor, &operation.Fill{Region: r, Pattern: p})
	require.NoError(h.t, err)
	return h.wait(job)
}

func (h *harness) wait(job *Job) Outcome {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := job.Wait(ctx)
	require.NoError(h.t, err, "job %s did not finish", job)
	return out
}

func TestFillUndoRedo(t *testing.T) {
	h := newHarness(t, nil)
	region := world.NewRegion(world.Pos(0, 1, 0), world.Pos(4, 5, 4))

	out := h.fill("alice", region, "stone")
	assert.Equal(t, pipeline.StateCompleted, out.State)
	assert.Equal(t, 125, out.Affected)
	assert.Equal(t, 125, out.Placed)
	assert.Contains(t, out.Message, "set stone: 125 blocks changed (0 skipped)")
	for p := range region.All() {
		require.Equal(t, world.B("stone"), h.block(p), "at %v", p)
	}

	ctx := context.Background()
	msg, err := h.engine.Undo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Undo successful: 125 blocks", msg)
	for p := range region.All() {
		require.True(t, h.block(p).IsAir(), "at %v", p)
	}
	assert.Equal(t, world.B("bedrock"), h.block(world.Pos(0, 0, 0)))

	msg, err = h.engine.Redo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Redo successful: 125 blocks", msg)
	assert.Equal(t, world.B("stone"), h.block(world.Pos(2, 3, 2)))

	msg, err = h.engine.Undo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Undo successful: 125 blocks", msg)
	msg, err = h.engine.Undo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Nothing left to undo", msg)

	// a new edit after undo clears the redo stack
	h.fill("alice", world.RegionAt(world.Pos(10, 1, 10), 1, 1, 1), "dirt")
	msg, err = h.engine.Redo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Nothing left to redo", msg)

	undo, redo, err := h.engine.History(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, undo)
	assert.Equal(t, 0, redo)
}

func TestOutcomeAndProgressAreReported(t *testing.T) {
	h := newHarness(t, nil)
	out := h.fill("bob", world.NewRegion(world.Pos(0, 1, 0), world.Pos(4, 5, 4)), "dirt")

	msgs := h.msgs.of("bob")
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs, "100% complete (125/125 blocks)")
	assert.Equal(t, out.Message, msgs[len(msgs)-1])

	count, err := testutil.GatherAndCount(h.reg, "voxedit_engine_jobs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNoopEditIsNotRecorded(t *testing.T) {
	h := newHarness(t, nil)
	out := h.fill("carol", world.NewRegion(world.Pos(0, 10, 0), world.Pos(2, 12, 2)), "air")
	assert.Equal(t, pipeline.StateCompleted, out.State)
	assert.Zero(t, out.Affected)
	assert.Equal(t, "set air: no blocks changed", out.Message)

	msg, err := h.engine.Undo(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, "Nothing left to undo", msg)
}

func TestVolumeLimit(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxVolume = 1000 })
	p, err := h.engine.ParsePattern("dave", "stone")
	require.NoError(t, err)

	job, err := h.engine.Execute(context.Background(), "dave", &operation.Sphere{
		Center: world.Pos(0, 20, 0), RadiusX: 10, RadiusY: 10, RadiusZ: 10, Pattern: p,
	})
	assert.Nil(t, job)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonVolume, verr.Reason)
	assert.ErrorIs(t, err, ErrVolumeExceeded)
	assert.Empty(t, h.engine.Jobs("dave"))

	count, err := testutil.GatherAndCount(h.reg, "voxedit_engine_rejected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRateLimit(t *testing.T) {
	fixed := time.Unix(1_000, 0)
	h := newHarness(t, func(o *Options) {
		o.Config.OperationsPerSecond = 1
		o.Config.OperationBurst = 1
		o.Now = func() time.Time { return fixed }
	})
	p, err := h.engine.ParsePattern("erin", "stone")
	require.NoError(t, err)
	op := &operation.Fill{Region: world.RegionAt(world.Pos(0, 1, 0), 1, 1, 1), Pattern: p}

	job, err := h.engine.Execute(context.Background(), "erin", op)
	require.NoError(t, err)
	h.wait(job)

	_, err = h.engine.Execute(context.Background(), "erin", op)
	assert.ErrorIs(t, err, ErrRateLimited)

	// limits are per actor
	job, err = h.engine.Execute(context.Background(), "frank", op)
	require.NoError(t, err)
	h.wait(job)
}

func TestParseFailuresAreValidationErrors(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.engine.ParseMask("gina", "stone&(dirt")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonParse, verr.Reason)

	mk, err := h.engine.ParseMask("gina", "")
	require.NoError(t, err)
	assert.Nil(t, mk)

	_, err = h.engine.ParsePattern("gina", "50%stone,-1%dirt")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonParse, verr.Reason)

	_, err = h.engine.ParsePattern("gina", "#clipboard")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonClipboard, verr.Reason)

	_, err = h.engine.Execute(context.Background(), "gina", nil)
	assert.ErrorIs(t, err, ErrNoOperation)
}

type brokenOp struct{ panics bool }

func (b brokenOp) Execute(context.Context, operation.Env) (*operation.UndoUnit, error) {
	if b.panics {
		panic("kaboom")
	}
	return nil, errors.New("generator exploded")
}

func (brokenOp) VolumeEstimate() int  { return 1 }
func (brokenOp) Describe() string     { return "broken" }
func (brokenOp) Bounds() world.Region { return world.RegionAt(world.Pos(0, 1, 0), 1, 1, 1) }

func TestExecutionFailureRecordsNothing(t *testing.T) {
	h := newHarness(t, nil)
	for _, panics := range []bool{false, true} {
		job, err := h.engine.Execute(context.Background(), "hank", brokenOp{panics: panics})
		require.NoError(t, err)
		out := h.wait(job)
		assert.Equal(t, pipeline.StateFailed, out.State)
		assert.ErrorIs(t, out.Err, ErrExecutionFailed)
		assert.True(t, strings.HasPrefix(out.Message, "broken failed:"), out.Message)
	}
	msg, err := h.engine.Undo(context.Background(), "hank")
	require.NoError(t, err)
	assert.Equal(t, "Nothing left to undo", msg)
}

func TestSelectionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Selection("ivy")
	assert.ErrorIs(t, err, ErrNoSelection)
	_, err = h.engine.ExpandSelection("ivy", world.Pos(1, 0, 0))
	assert.ErrorIs(t, err, ErrNoSelection)

	h.engine.SetPos1("ivy", world.Pos(3, 1, 3))
	_, err = h.engine.Selection("ivy")
	assert.ErrorIs(t, err, ErrNoSelection, "one corner is not a selection")

	r := h.engine.SetPos2("ivy", world.Pos(0, 4, 0))
	assert.Equal(t, 64, r.Volume())

	r, err = h.engine.ExpandSelection("ivy", world.Pos(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 6, r.Height())
	r, err = h.engine.ShiftSelection("ivy", world.Pos(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, world.Pos(10, 1, 0), r.Min())
	r, err = h.engine.ContractSelection("ivy", world.Pos(1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, r.Width())
}

func TestCopyRotatePaste(t *testing.T) {
	h := newHarness(t, nil)
	h.fill("jo", world.RegionAt(world.Pos(0, 1, 0), 1, 1, 1), "stone")
	h.fill("jo", world.RegionAt(world.Pos(1, 1, 0), 1, 1, 1), "dirt")

	assert.ErrorIs(t, h.engine.Rotate("jo", 90), ErrEmptyClipboard)
	_, err := h.engine.Copy(context.Background(), "jo")
	assert.ErrorIs(t, err, ErrNoSelection)

	h.engine.Select("jo", world.NewRegion(world.Pos(0, 1, 0), world.Pos(1, 1, 0)))
	n, err := h.engine.Copy(context.Background(), "jo")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = h.engine.Rotate("jo", 45)
	assert.ErrorIs(t, err, clipboard.ErrInvalidRotation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonArgument, verr.Reason)
	assert.ErrorIs(t, h.engine.Flip("jo", "w"), clipboard.ErrInvalidAxis)

	require.NoError(t, h.engine.Rotate("jo", 90))
	buf, ok := h.engine.Clipboard("jo")
	require.True(t, ok)
	w, _, l := buf.Size()
	assert.Equal(t, 1, w)
	assert.Equal(t, 2, l)

	job, err := h.engine.Paste(context.Background(), "jo", world.Pos(5, 1, 5), false)
	require.NoError(t, err)
	out := h.wait(job)
	assert.Equal(t, 2, out.Placed)
	assert.Equal(t, world.B("stone"), h.block(world.Pos(5, 1, 5)))
	assert.Equal(t, world.B("dirt"), h.block(world.Pos(5, 1, 6)))

	// the clipboard also works as a pattern
	p, err := h.engine.ParsePattern("jo", "#clipboard")
	require.NoError(t, err)
	assert.Equal(t, "#clipboard", p.String())
}

func TestGravityBlocksSettleAfterBatch(t *testing.T) {
	h := newHarness(t, nil)
	out := h.fill("kim", world.NewRegion(world.Pos(0, 5, 0), world.Pos(2, 5, 2)), "sand")
	assert.Equal(t, 9, out.Placed)

	for x := 0; x <= 2; x++ {
		for z := 0; z <= 2; z++ {
			assert.Equal(t, world.B("sand"), h.block(world.Pos(x, 1, z)))
			assert.True(t, h.block(world.Pos(x, 5, z)).IsAir())
		}
	}
}

func TestPastedSandStaysOnPastedSupport(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.Pipeline.ChunkSize = 16
		o.Config.Pipeline.Workers = 4
	})
	buf := clipboard.New(world.Pos(0, 0, 0), 16, 2, 16)
	for x := 0; x < 16; x++ {
		for z := 0; z < 16; z++ {
			require.NoError(t, buf.Set(world.Pos(x, 0, z), world.B("stone")))
			require.NoError(t, buf.Set(world.Pos(x, 1, z), world.B("sand")))
		}
	}
	h.engine.SetClipboard("pat", buf)

	job, err := h.engine.Paste(context.Background(), "pat", world.Pos(-8, 4, -8), false)
	require.NoError(t, err)
	out := h.wait(job)
	require.Equal(t, pipeline.StateCompleted, out.State)
	assert.Equal(t, 512, out.Placed)

	for x := -8; x < 8; x++ {
		for z := -8; z < 8; z++ {
			require.Equal(t, world.B("stone"), h.block(world.Pos(x, 4, z)), "support at %d,%d", x, z)
			require.Equal(t, world.B("sand"), h.block(world.Pos(x, 5, z)), "sand at %d,%d fell", x, z)
		}
	}
}

type countingLoop struct {
	*sim.Loop
	calls atomic.Int32
}

func (c *countingLoop) Do(ctx context.Context, fn func()) error {
	c.calls.Add(1)
	return c.Loop.Do(ctx, fn)
}

func TestSnapshotIsTakenOnePartitionPerTask(t *testing.T) {
	var counting *countingLoop
	h := newHarness(t, func(o *Options) {
		counting = &countingLoop{Loop: o.Loop.(*sim.Loop)}
		o.Loop = counting
	})

	// x 0..40 overlaps partitions 0, 1 and 2 along x; only two are in the world
	region := world.NewRegion(world.Pos(0, 1, 0), world.Pos(40, 1, 5))
	before := counting.calls.Load()
	out := h.fill("max", region, "stone")
	assert.EqualValues(t, 3, counting.calls.Load()-before)
	assert.Equal(t, pipeline.StateCompleted, out.State)
	assert.Equal(t, 32*6, out.Placed)
	assert.Equal(t, world.B("stone"), h.block(world.Pos(20, 1, 5)))
}

func TestCancelledUndoLeavesWorldAndHistoryAlone(t *testing.T) {
	h := newHarness(t, nil)
	region := world.NewRegion(world.Pos(0, 1, 0), world.Pos(1, 1, 1))
	h.fill("ana", region, "stone")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.engine.Undo(ctx, "ana")
	require.ErrorIs(t, err, context.Canceled)

	// give a queued undo every chance to run
	for i := 0; i < 5; i++ {
		require.Equal(t, world.B("stone"), h.block(world.Pos(0, 1, 0)))
	}
	for p := range region.All() {
		assert.Equal(t, world.B("stone"), h.block(p), "at %v", p)
	}
	undo, redo, err := h.engine.History(context.Background(), "ana")
	require.NoError(t, err)
	assert.Equal(t, 1, undo)
	assert.Equal(t, 0, redo)
}

func TestOutOfWorldPositionsAreSkipped(t *testing.T) {
	h := newHarness(t, nil)
	// x 30..33 straddles the world's edge at 31
	out := h.fill("lee", world.NewRegion(world.Pos(30, 1, 0), world.Pos(33, 1, 0)), "stone")
	assert.Equal(t, pipeline.StateCompleted, out.State)
	assert.Equal(t, 2, out.Placed)
}

func TestCancelStopsApplication(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Config.Pipeline.MinBatch = 50
		o.Config.Pipeline.MaxBatch = 50
		o.Config.Pipeline.InitialBatch = 50
		o.Config.Pipeline.ChunkSize = 50
	})
	p, err := h.engine.ParsePattern("max", "stone")
	require.NoError(t, err)
	region := world.NewRegion(world.Pos(-20, 1, -20), world.Pos(19, 40, 19))
	job, err := h.engine.Execute(context.Background(), "max", &operation.Fill{Region: region, Pattern: p})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rep, ok := job.Report()
		return ok && rep.Placed > 0
	}, 10*time.Second, time.Millisecond)
	job.Cancel()
	out := h.wait(job)

	assert.Equal(t, pipeline.StateCancelled, out.State)
	assert.Less(t, out.Placed, region.Volume())
	assert.Contains(t, out.Message, "cancelled after")

	// partial edits can still be undone
	msg, err := h.engine.Undo(context.Background(), "max")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(msg, "Undo successful"), msg)
	assert.True(t, h.block(region.Min()).IsAir())
	assert.True(t, h.block(region.Max()).IsAir())
}

func TestJournalReceivesFinishedJobs(t *testing.T) {
	store, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, func(o *Options) { o.Journal = store })
	h.fill("nia", world.NewRegion(world.Pos(0, 1, 0), world.Pos(1, 1, 1)), "stone")

	ctx := context.Background()
	require.NoError(t, store.Flush(ctx))
	entries, err := store.Recent(ctx, "nia", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "completed", entries[0].State)
	assert.Equal(t, 4, entries[0].Affected)
	assert.Equal(t, "set stone", entries[0].Description)
}
