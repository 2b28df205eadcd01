// Package engine accepts edit requests from actors, validates them, computes
// their changes off the simulation loop and hands the result to the batch
// pipeline. Undo and redo run on the loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"voxedit/internal/history"
	"voxedit/internal/journal"
	"voxedit/internal/metrics"
	"voxedit/internal/monitor"
	"voxedit/internal/operation"
	"voxedit/internal/pipeline"
	"voxedit/internal/world"
)

// World is the live world as the engine needs it. *world.Manager
// implements it.
type World interface {
	pipeline.Target
	world.Reader
	Dimensions() world.Dimensions
	// SnapshotChunk copies the cells of s's region inside one partition.
	SnapshotChunk(s *world.Snapshot, coord world.ChunkCoord)
	Materials() *world.Materials
	// Loading returns a writer that makes partitions resident on demand.
	Loading() world.Writer
}

// Loop is the single-writer simulation loop. *sim.Loop implements it.
type Loop interface {
	pipeline.Scheduler
	Submit(fn func())
	Do(ctx context.Context, fn func()) error
}

type Config struct {
	// MaxVolume rejects operations whose volume estimate exceeds it; zero
	// disables the check.
	MaxVolume int
	// OperationsPerSecond and OperationBurst bound submissions per actor;
	// zero disables the limit.
	OperationsPerSecond float64
	OperationBurst      int
	Pipeline            pipeline.Config
	// Seed feeds noise patterns.
	Seed int64
}

type Options struct {
	Config          Config
	World           World
	Loop            Loop
	Monitor         *monitor.Monitor
	History         *history.Manager
	Journal         *journal.Store
	Metrics         *metrics.Engine
	PipelineMetrics *metrics.Pipeline
	Logger          *zap.Logger
	Tracer          trace.Tracer
	// Notify receives actor-facing progress and outcome messages.
	Notify func(actor, msg string)
	Now    func() time.Time
}

// Manager is the operation manager. Its methods are safe for concurrent
// use from any goroutine except the loop goroutine.
type Manager struct {
	cfg      Config
	world    World
	loop     Loop
	monitor  *monitor.Monitor
	history  *history.Manager
	journal  *journal.Store
	metrics  *metrics.Engine
	pipeMets *metrics.Pipeline
	logger   *zap.Logger
	tracer   trace.Tracer
	notify   func(actor, msg string)
	now      func() time.Time
	seed     int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	limiters map[string]*rate.Limiter
	jobs     map[uuid.UUID]*Job
	closed   bool
}

func New(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("voxedit/engine")
	}
	if opts.History == nil {
		opts.History = history.NewManager(history.DefaultCapacity, opts.Logger)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      opts.Config,
		world:    opts.World,
		loop:     opts.Loop,
		monitor:  opts.Monitor,
		history:  opts.History,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		pipeMets: opts.PipelineMetrics,
		logger:   opts.Logger.Named("engine"),
		tracer:   opts.Tracer,
		notify:   opts.Notify,
		now:      opts.Now,
		seed:     opts.Config.Seed,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		limiters: make(map[string]*rate.Limiter),
		jobs:     make(map[uuid.UUID]*Job),
	}
}

func (m *Manager) tell(actor, msg string) {
	if m.notify != nil {
		m.notify(actor, msg)
	}
}

func (m *Manager) rejected(actor string, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		m.metrics.Rejected(verr.Reason)
	}
	m.logger.Info("request rejected", zap.String("actor", actor), zap.Error(err))
}

func (m *Manager) limiter(actor string) *rate.Limiter {
	if m.cfg.OperationsPerSecond <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.limiters[actor]
	if !ok {
		l = rate.NewLimiter(rate.Limit(m.cfg.OperationsPerSecond), max(1, m.cfg.OperationBurst))
		m.limiters[actor] = l
	}
	return l
}

// validate runs every up-front check. Nothing is scheduled when it fails.
func (m *Manager) validate(actor string, op operation.Operation) error {
	if op == nil {
		return invalid(ReasonArgument, ErrNoOperation)
	}
	if volume := op.VolumeEstimate(); m.cfg.MaxVolume > 0 && volume > m.cfg.MaxVolume {
		return invalid(ReasonVolume, fmt.Errorf("%w: %d > %d", ErrVolumeExceeded, volume, m.cfg.MaxVolume))
	}
	if l := m.limiter(actor); l != nil && !l.AllowN(m.now(), 1) {
		return invalid(ReasonRate, ErrRateLimited)
	}
	return nil
}

// Execute validates op and starts it asynchronously. Validation failures
// are returned immediately as *ValidationError.
func (m *Manager) Execute(ctx context.Context, actor string, op operation.Operation) (*Job, error) {
	if err := m.validate(actor, op); err != nil {
		m.rejected(actor, err)
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	// the job outlives the request; keep only its trace
	jobCtx, cancel := context.WithCancel(trace.ContextWithSpanContext(m.ctx, trace.SpanContextFromContext(ctx)))
	job := newJob(actor, op.Describe(), m.now(), cancel)
	m.jobs[job.ID] = job
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("job submitted",
		zap.Stringer("job", job.ID),
		zap.String("actor", actor),
		zap.String("operation", job.Description),
		zap.Int("volume", op.VolumeEstimate()))

	go m.run(jobCtx, job, op)
	return job, nil
}

func (m *Manager) run(ctx context.Context, job *Job, op operation.Operation) {
	defer m.wg.Done()
	defer job.cancel()

	ctx, span := m.tracer.Start(ctx, "engine.job", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.actor", job.Actor),
		attribute.String("job.operation", job.Description),
		attribute.Int("job.volume", op.VolumeEstimate()),
	))
	defer span.End()

	unit, err := m.prepare(ctx, job, op)
	if err != nil {
		state := pipeline.StateFailed
		if ctx.Err() != nil {
			state = pipeline.StateCancelled
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.complete(job, nil, Outcome{State: state, Err: err})
		return
	}
	span.SetAttributes(attribute.Int("job.affected", unit.Affected()))
	if unit.Affected() == 0 {
		m.complete(job, unit, Outcome{State: pipeline.StateCompleted})
		return
	}

	rep := m.apply(ctx, job, unit)
	out := Outcome{
		Affected: unit.Affected(),
		Placed:   rep.Placed,
		Skipped:  rep.Skipped,
		State:    rep.State,
		Err:      rep.Err,
	}
	if rep.State == pipeline.StateFailed {
		span.SetStatus(codes.Error, "pipeline failed")
	}
	m.complete(job, unit, out)
}

// prepare snapshots the operation's bounds on the loop, one partition per
// task so a large capture spans ticks, and computes the undo unit off it.
func (m *Manager) prepare(ctx context.Context, job *Job, op operation.Operation) (*operation.UndoUnit, error) {
	bounds := op.Bounds()
	dim := m.world.Dimensions()
	coords := bounds.Chunks(dim.Width, dim.Length)
	snapCtx, snapSpan := m.tracer.Start(ctx, "engine.snapshot",
		trace.WithAttributes(attribute.Int("snapshot.partitions", len(coords))))
	snap := world.NewEmptySnapshot(bounds)
	for _, coord := range coords {
		if err := m.loop.Do(snapCtx, func() { m.world.SnapshotChunk(snap, coord) }); err != nil {
			snapSpan.End()
			return nil, err
		}
	}
	snapSpan.End()

	execCtx, execSpan := m.tracer.Start(ctx, "engine.execute")
	defer execSpan.End()
	unit, err := execute(execCtx, op, operation.Env{Actor: job.Actor, World: snap})
	if err != nil {
		execSpan.RecordError(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrExecutionFailed, err)
	}
	return unit, nil
}

func execute(ctx context.Context, op operation.Operation, env operation.Env) (unit *operation.UndoUnit, err error) {
	defer func() {
		if r := recover(); r != nil {
			unit, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	unit, err = op.Execute(ctx, env)
	if err == nil && unit == nil {
		err = errors.New("operation returned no changes")
	}
	return unit, err
}

// apply runs the pipeline for unit and blocks until it finished. History is
// recorded on the loop before apply returns.
func (m *Manager) apply(ctx context.Context, job *Job, unit *operation.UndoUnit) pipeline.Report {
	ctx, span := m.tracer.Start(ctx, "engine.apply", trace.WithAttributes(
		attribute.Int("apply.entries", unit.Affected()),
	))
	defer span.End()

	entries := make([]pipeline.Entry, 0, unit.Affected())
	unit.Each(func(c operation.Change) bool {
		entries = append(entries, pipeline.Entry{Pos: c.Pos, Block: c.After})
		return true
	})

	finished := make(chan pipeline.Report, 1)
	pipe := pipeline.New(pipeline.Options{
		Config:    m.cfg.Pipeline,
		Target:    m.world,
		Classes:   m.world.Materials(),
		Scheduler: m.loop,
		Monitor:   m.monitor,
		Metrics:   m.pipeMets,
		Logger:    m.logger.With(zap.Stringer("job", job.ID)),
		Now:       m.now,
		Progress: func(msg string) {
			job.addProgress(msg)
			m.tell(job.Actor, msg)
		},
		OnComplete: func(rep pipeline.Report) {
			if rep.Placed > 0 {
				m.loop.Submit(func() { m.history.Record(unit) })
			}
			finished <- rep
		},
	})
	job.attach(pipe)
	if err := pipe.Start(ctx, entries); err != nil {
		return pipeline.Report{Total: len(entries), State: pipeline.StateFailed, Err: err}
	}

	rep := <-finished
	span.SetAttributes(
		attribute.Int("apply.placed", rep.Placed),
		attribute.Int("apply.skipped", rep.Skipped),
		attribute.Int("apply.batches", rep.Batches),
		attribute.String("apply.state", rep.State.String()),
	)
	return rep
}

func (m *Manager) complete(job *Job, unit *operation.UndoUnit, out Outcome) {
	out.Elapsed = m.now().Sub(job.Started)
	out.Message = outcomeMessage(job.Description, out)

	m.mu.Lock()
	delete(m.jobs, job.ID)
	m.mu.Unlock()

	m.metrics.Job(out.State.String(), out.Affected, out.Elapsed.Seconds())
	fields := []zap.Field{
		zap.Stringer("job", job.ID),
		zap.String("actor", job.Actor),
		zap.Stringer("state", out.State),
		zap.Int("affected", out.Affected),
		zap.Int("placed", out.Placed),
		zap.Int("skipped", out.Skipped),
		zap.Duration("elapsed", out.Elapsed),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	if out.State == pipeline.StateFailed {
		m.logger.Warn("job finished", fields...)
	} else {
		m.logger.Info("job finished", fields...)
	}

	if m.journal != nil {
		entry := journal.Entry{
			JobID:       job.ID.String(),
			Actor:       job.Actor,
			Description: job.Description,
			State:       out.State.String(),
			Affected:    out.Affected,
			Placed:      out.Placed,
			Skipped:     out.Skipped,
			Started:     job.Started,
			Finished:    job.Started.Add(out.Elapsed),
		}
		if out.Err != nil {
			entry.Error = out.Err.Error()
		}
		if err := m.journal.Record(entry); err != nil {
			m.logger.Warn("journal write failed", zap.Stringer("job", job.ID), zap.Error(err))
		}
	}

	m.tell(job.Actor, out.Message)
	job.finish(out)
}

func outcomeMessage(desc string, out Outcome) string {
	elapsed := out.Elapsed.Round(time.Millisecond)
	switch out.State {
	case pipeline.StateCompleted:
		if out.Affected == 0 {
			return fmt.Sprintf("%s: no blocks changed", desc)
		}
		return fmt.Sprintf("%s: %d blocks changed (%d skipped) in %s", desc, out.Placed, out.Skipped, elapsed)
	case pipeline.StateCancelled:
		return fmt.Sprintf("%s: cancelled after %d of %d blocks", desc, out.Placed, out.Affected)
	default:
		return fmt.Sprintf("%s failed: %v", desc, out.Err)
	}
}

// Jobs returns the actor's running jobs; an empty actor returns all.
func (m *Manager) Jobs(actor string) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Job
	for _, j := range m.jobs {
		if actor == "" || j.Actor == actor {
			out = append(out, j)
		}
	}
	return out
}

// CancelAll cancels the actor's running jobs and reports how many there
// were.
func (m *Manager) CancelAll(actor string) int {
	jobs := m.Jobs(actor)
	for _, j := range jobs {
		j.Cancel()
	}
	return len(jobs)
}

// Undo reverts the actor's most recent edit on the loop goroutine.
func (m *Manager) Undo(ctx context.Context, actor string) (string, error) {
	return m.replay(ctx, actor, true)
}

// Redo reapplies the actor's most recently undone edit.
func (m *Manager) Redo(ctx context.Context, actor string) (string, error) {
	return m.replay(ctx, actor, false)
}

func (m *Manager) replay(ctx context.Context, actor string, undo bool) (string, error) {
	kind := "redo"
	if undo {
		kind = "undo"
	}
	ctx, span := m.tracer.Start(ctx, "engine."+kind, trace.WithAttributes(attribute.String("job.actor", actor)))
	defer span.End()

	var (
		res history.ReplayResult
		ok  bool
	)
	err := m.loop.Do(ctx, func() {
		w := m.world.Loading()
		if undo {
			res, ok = m.history.Undo(actor, w)
		} else {
			res, ok = m.history.Redo(actor, w)
		}
	})
	if err != nil {
		return "", err
	}
	if !ok {
		m.metrics.Replay("empty")
		if undo {
			return "Nothing left to undo", nil
		}
		return "Nothing left to redo", nil
	}
	m.metrics.Replay(kind)
	verb := "Redo"
	if undo {
		verb = "Undo"
	}
	msg := fmt.Sprintf("%s successful: %d blocks", verb, res.Applied)
	if res.Skipped > 0 {
		msg += fmt.Sprintf(" (%d skipped)", res.Skipped)
	}
	return msg, nil
}

// History exposes the undo/redo depth for actor. It runs on the loop.
func (m *Manager) History(ctx context.Context, actor string) (undo, redo int, err error) {
	err = m.loop.Do(ctx, func() {
		undo, redo = m.history.UndoDepth(actor), m.history.RedoDepth(actor)
	})
	return undo, redo, err
}

// Close cancels running jobs and waits for them to finish. The loop must
// still be running so that cancelled pipelines can wind down.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.CancelAll("")
	m.wg.Wait()
}
