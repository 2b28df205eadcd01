// Package pipeline applies large precomputed change lists to the world from
// the simulation loop without starving it. Preparation runs on a worker
// pool; application happens in small, paced slices on the loop goroutine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxedit/internal/metrics"
	"voxedit/internal/monitor"
	"voxedit/internal/world"
)

var ErrAlreadyStarted = errors.New("pipeline already started")

// Target is the live world as seen by the consumer.
type Target interface {
	world.Writer
	ChunkOf(p world.Position) world.ChunkCoord
	IsResident(coord world.ChunkCoord) bool
	EnsureResident(coord world.ChunkCoord) error
	Settle(positions []world.Position) world.SettleReport
}

// Scheduler runs fn once per tick on the single-writer goroutine until fn
// returns false. *sim.Loop implements it.
type Scheduler interface {
	Every(fn func() bool)
}

type State int32

const (
	StateIdle State = iota
	StatePreparing
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

type Config struct {
	MinBatch     int
	MaxBatch     int
	InitialBatch int
	// ChunkSize is how many entries one prepared batch holds.
	ChunkSize int
	Workers   int
	// QueueCapacity bounds prepared batches waiting for the consumer.
	QueueCapacity int
	// AdjustEvery is how many consumed batches pass between controller
	// updates.
	AdjustEvery   int
	MaxDelayTicks int
	// EmptyPollConfirm is how many consecutive empty polls after
	// preparation finished are needed before unaccounted entries are
	// written off.
	EmptyPollConfirm int
	// ProgressStep is the percentage between progress messages; zero
	// disables them.
	ProgressStep int
}

func DefaultConfig() Config {
	return Config{
		MinBatch:         100,
		MaxBatch:         10000,
		InitialBatch:     1000,
		ChunkSize:        1000,
		Workers:          runtime.NumCPU(),
		QueueCapacity:    8,
		AdjustEvery:      5,
		MaxDelayTicks:    10,
		EmptyPollConfirm: 3,
		ProgressStep:     10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinBatch <= 0 {
		c.MinBatch = d.MinBatch
	}
	if c.MaxBatch < c.MinBatch {
		c.MaxBatch = max(c.MinBatch, d.MaxBatch)
	}
	if c.InitialBatch <= 0 {
		c.InitialBatch = d.InitialBatch
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.AdjustEvery <= 0 {
		c.AdjustEvery = d.AdjustEvery
	}
	if c.MaxDelayTicks <= 0 {
		c.MaxDelayTicks = d.MaxDelayTicks
	}
	if c.EmptyPollConfirm <= 0 {
		c.EmptyPollConfirm = d.EmptyPollConfirm
	}
	if c.ProgressStep < 0 {
		c.ProgressStep = 0
	}
	return c
}

// Report summarises a run. Placed+Skipped equals Total once the pipeline
// completed.
type Report struct {
	Total   int
	Placed  int
	Skipped int
	// ResidencyFailures counts partition groups skipped because the
	// partition could not be made resident.
	ResidencyFailures int
	WriteFailures     int
	Batches           int
	EmptyPolls        int
	Fallen            int
	NeighborUpdates   int
	BatchSize         int
	DelayTicks        int
	State             State
	Err               error
	Elapsed           time.Duration
}

type Options struct {
	Config    Config
	Target    Target
	Classes   Classifier
	Scheduler Scheduler
	// Monitor drives the adaptive controller. Without one the controller
	// holds its initial settings.
	Monitor *monitor.Monitor
	Metrics *metrics.Pipeline
	Logger  *zap.Logger
	// Progress receives human readable progress lines on the loop goroutine.
	Progress func(msg string)
	// OnComplete is called once with the final report, from whichever
	// goroutine finished the run.
	OnComplete func(Report)
	Now        func() time.Time
}

// cursor tracks how far the consumer got into the current batch.
type cursor struct {
	batch   batch
	group   int
	entry   int
	written []world.Position
}

func (c *cursor) done() bool { return c.group >= len(c.batch.groups) }

type Pipeline struct {
	cfg        Config
	target     Target
	classes    Classifier
	scheduler  Scheduler
	monitor    *monitor.Monitor
	metrics    *metrics.Pipeline
	logger     *zap.Logger
	progress   func(string)
	onComplete func(Report)
	now        func() time.Time

	queue         chan batch
	state         atomic.Int32
	producingDone atomic.Bool
	prepErr       atomic.Pointer[error]
	done          chan struct{}

	// mu is held for the whole of a consumer step. Stop takes it, so no
	// write happens once Stop has returned.
	mu                  sync.Mutex
	ctx                 context.Context
	cancel              context.CancelFunc
	ctrl                controller
	current             *cursor
	sinceRun            int
	consumedSinceAdjust int
	confirmPolls        int
	lastProgress        int
	started             time.Time
	report              Report
}

func New(opts Options) *Pipeline {
	cfg := opts.Config.withDefaults()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Classes == nil {
		opts.Classes = world.DefaultMaterials()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		cfg:        cfg,
		target:     opts.Target,
		classes:    opts.Classes,
		scheduler:  opts.Scheduler,
		monitor:    opts.Monitor,
		metrics:    opts.Metrics,
		logger:     opts.Logger.Named("pipeline"),
		progress:   opts.Progress,
		onComplete: opts.OnComplete,
		now:        opts.Now,
		queue:      make(chan batch, cfg.QueueCapacity),
		done:       make(chan struct{}),
		ctrl:       newController(cfg),
	}
}

func (p *Pipeline) State() State { return State(p.state.Load()) }

// Done is closed when the run reaches a terminal state.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

func (p *Pipeline) Report() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Pipeline) snapshotLocked() Report {
	r := p.report
	r.State = p.State()
	r.BatchSize = p.ctrl.batchSize
	r.DelayTicks = p.ctrl.delay
	if !r.State.Terminal() && !p.started.IsZero() {
		r.Elapsed = p.now().Sub(p.started)
	}
	return r
}

// Start begins preparing entries and registers the consumer with the
// scheduler. Cancelling ctx has the same effect as Stop, observed on the
// consumer's next tick.
func (p *Pipeline) Start(ctx context.Context, entries []Entry) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StatePreparing)) {
		return ErrAlreadyStarted
	}
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = p.now()
	p.report.Total = len(entries)
	prepCtx := p.ctx
	p.mu.Unlock()

	p.logger.Info("pipeline started",
		zap.Int("entries", len(entries)),
		zap.Int("batch_size", p.cfg.InitialBatch),
		zap.Int("workers", p.cfg.Workers))

	p.scheduler.Every(p.step)
	go func() {
		err := p.produce(prepCtx, entries)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			p.prepErr.Store(&err)
			p.logger.Error("preparation failed", zap.Error(err))
		}
		p.producingDone.Store(true)
	}()
	return nil
}

// Stop cancels the run. Producers are interrupted, queued batches are
// discarded, and no further writes happen after Stop returns.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	rep, finished := p.finishLocked(StateCancelled, context.Canceled)
	p.mu.Unlock()
	if finished {
		p.notify(rep)
	}
}

func (p *Pipeline) notify(rep Report) {
	if p.onComplete != nil {
		p.onComplete(rep)
	}
}

// step is the consumer. It runs once per tick on the loop goroutine and
// returns false to deregister.
func (p *Pipeline) step() bool {
	p.mu.Lock()
	rep, finished, keep := p.stepLocked()
	p.mu.Unlock()
	if finished {
		p.notify(rep)
	}
	return keep
}

func (p *Pipeline) stepLocked() (Report, bool, bool) {
	if p.State().Terminal() {
		return Report{}, false, false
	}
	if err := p.ctx.Err(); err != nil {
		rep, finished := p.finishLocked(StateCancelled, err)
		return rep, finished, false
	}

	p.sinceRun++
	if p.sinceRun < p.ctrl.delay {
		return Report{}, false, true
	}
	p.sinceRun = 0

	if p.consumedSinceAdjust >= p.cfg.AdjustEvery {
		p.adaptLocked()
	}

	// read before polling: every send happens before producingDone is set
	producersDone := p.producingDone.Load()
	polled := p.current != nil
	budget := p.ctrl.batchSize
	for budget > 0 {
		if p.current == nil {
			b, ok := p.poll()
			if !ok {
				break
			}
			p.current = &cursor{batch: b}
			polled = true
			p.state.CompareAndSwap(int32(StatePreparing), int32(StateRunning))
		}
		budget -= p.applyLocked(budget)
		if p.current.done() {
			p.finishBatchLocked()
		}
	}

	if !polled {
		p.report.EmptyPolls++
		p.metrics.EmptyPoll()
		if producersDone {
			p.confirmPolls++
		}
	} else {
		p.confirmPolls = 0
	}
	p.progressLocked()

	if p.current != nil || !producersDone || len(p.queue) > 0 {
		return Report{}, false, true
	}
	remaining := p.report.Total - p.report.Placed - p.report.Skipped
	if remaining > 0 && p.confirmPolls < p.cfg.EmptyPollConfirm {
		return Report{}, false, true
	}
	if remaining > 0 {
		p.report.Skipped += remaining
		p.metrics.Skipped("abandoned", remaining)
		p.logger.Warn("entries never reached the consumer", zap.Int("count", remaining))
	}
	state, err := StateCompleted, error(nil)
	if perr := p.prepErr.Load(); perr != nil {
		state, err = StateFailed, *perr
	}
	rep, finished := p.finishLocked(state, err)
	return rep, finished, false
}

func (p *Pipeline) poll() (batch, bool) {
	select {
	case b := <-p.queue:
		return b, true
	default:
		return batch{}, false
	}
}

// applyLocked writes up to budget entries from the current batch and
// returns how many it attempted.
func (p *Pipeline) applyLocked(budget int) int {
	c := p.current
	used := 0
	for used < budget && !c.done() {
		g := &c.batch.groups[c.group]
		if !p.target.IsResident(g.coord) {
			if err := p.target.EnsureResident(g.coord); err != nil {
				n := len(g.entries) - c.entry
				p.report.Skipped += n
				p.report.ResidencyFailures++
				p.metrics.Skipped("residency", n)
				p.logger.Warn("skipping partition",
					zap.Stringer("chunk", g.coord),
					zap.Int("entries", n),
					zap.Error(err))
				c.group++
				c.entry = 0
				continue
			}
		}
		placed := 0
		for c.entry < len(g.entries) && used < budget {
			e := g.entries[c.entry]
			c.entry++
			used++
			if err := p.target.Write(e.Pos, e.Block, false); err != nil {
				p.report.Skipped++
				p.report.WriteFailures++
				p.metrics.Skipped("write", 1)
				p.logger.Debug("write failed", zap.Stringer("pos", e.Pos), zap.Error(err))
				continue
			}
			placed++
			if c.batch.deferred {
				c.written = append(c.written, e.Pos)
			}
		}
		p.report.Placed += placed
		p.metrics.Placed(placed)
		if c.entry >= len(g.entries) {
			c.group++
			c.entry = 0
		}
	}
	return used
}

func (p *Pipeline) finishBatchLocked() {
	c := p.current
	if c.batch.deferred && len(c.written) > 0 {
		settled := p.target.Settle(c.written)
		p.report.Fallen += settled.Fallen
		p.report.NeighborUpdates += settled.NeighborUpdates
		p.metrics.Fallen(settled.Fallen)
	}
	p.current = nil
	p.report.Batches++
	p.consumedSinceAdjust++
	p.metrics.BatchConsumed()
}

func (p *Pipeline) adaptLocked() {
	p.consumedSinceAdjust = 0
	tier, throughput := monitor.TierFair, 1.0
	if p.monitor != nil {
		stats := p.monitor.Stats()
		tier, throughput = stats.Tier, stats.Throughput
	}
	before, beforeDelay := p.ctrl.batchSize, p.ctrl.delay
	p.ctrl.adjust(tier)
	p.metrics.Controller(p.ctrl.batchSize, p.ctrl.delay, throughput, int(tier))
	if before != p.ctrl.batchSize || beforeDelay != p.ctrl.delay {
		p.logger.Debug("controller adjusted",
			zap.Stringer("tier", tier),
			zap.Float64("throughput", throughput),
			zap.Int("batch_size", p.ctrl.batchSize),
			zap.Int("delay_ticks", p.ctrl.delay))
	}
}

func (p *Pipeline) progressLocked() {
	if p.cfg.ProgressStep == 0 || p.report.Total == 0 {
		return
	}
	processed := p.report.Placed + p.report.Skipped
	percent := processed * 100 / p.report.Total
	if percent < p.lastProgress+p.cfg.ProgressStep {
		return
	}
	p.lastProgress = percent - percent%p.cfg.ProgressStep
	msg := fmt.Sprintf("%d%% complete (%d/%d blocks)", p.lastProgress, processed, p.report.Total)
	p.logger.Info("pipeline progress",
		zap.Int("percent", p.lastProgress),
		zap.Int("placed", p.report.Placed),
		zap.Int("skipped", p.report.Skipped))
	if p.progress != nil {
		p.progress(msg)
	}
}

// finishLocked moves the run to a terminal state. It reports false when the
// run had already finished.
func (p *Pipeline) finishLocked(state State, err error) (Report, bool) {
	for {
		cur := p.state.Load()
		if State(cur).Terminal() {
			return Report{}, false
		}
		if p.state.CompareAndSwap(cur, int32(state)) {
			break
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	discarded := 0
	if p.current != nil {
		discarded++
		p.current = nil
	}
	for {
		if _, ok := p.poll(); !ok {
			break
		}
		discarded++
	}

	if !p.started.IsZero() {
		p.report.Elapsed = p.now().Sub(p.started)
	}
	p.report.Err = err
	rep := p.snapshotLocked()
	close(p.done)

	fields := []zap.Field{
		zap.Stringer("state", state),
		zap.Int("total", rep.Total),
		zap.Int("placed", rep.Placed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("batches", rep.Batches),
		zap.Duration("elapsed", rep.Elapsed),
	}
	if discarded > 0 {
		fields = append(fields, zap.Int("discarded_batches", discarded))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	p.logger.Info("pipeline finished", fields...)
	return rep, true
}
