// Package sim runs the single-writer simulation loop. Every mutation of
// world state happens inside a tick on the loop goroutine.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"voxedit/internal/monitor"
)

// TickerFactory returns a tick channel and its stop function.
type TickerFactory func(time.Duration) (<-chan time.Time, func())

func defaultTickerFactory() TickerFactory {
	return func(d time.Duration) (<-chan time.Time, func()) {
		ticker := time.NewTicker(d)
		return ticker.C, ticker.Stop
	}
}

const DefaultTickRate = 50 * time.Millisecond

type Options struct {
	TickRate time.Duration
	// MaxTasksPerTick bounds how many submitted tasks one tick drains; zero
	// drains everything queued at the start of the tick.
	MaxTasksPerTick int
	Monitor         *monitor.Monitor
	Logger          *zap.Logger
	TickerFactory   TickerFactory
	Now             func() time.Time
}

type recurring struct {
	id uint64
	fn func() bool
}

// Loop is the single writer. Submit and Do are safe from any goroutine;
// Tick must only be driven by one goroutine at a time.
type Loop struct {
	tick      time.Duration
	maxTasks  int
	monitor   *monitor.Monitor
	logger    *zap.Logger
	newTicker TickerFactory
	now       func() time.Time

	tasks taskQueue

	mu        sync.Mutex
	recurring []recurring
	nextID    uint64

	last    time.Time
	ticks   atomic.Uint64
	running atomic.Bool
	wg      sync.WaitGroup
}

func New(opts Options) *Loop {
	if opts.TickRate <= 0 {
		opts.TickRate = DefaultTickRate
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.TickerFactory == nil {
		opts.TickerFactory = defaultTickerFactory()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{
		tick:      opts.TickRate,
		maxTasks:  opts.MaxTasksPerTick,
		monitor:   opts.Monitor,
		logger:    opts.Logger.Named("sim"),
		newTicker: opts.TickerFactory,
		now:       opts.Now,
	}
}

func (l *Loop) TickRate() time.Duration { return l.tick }

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Start runs the loop on its own goroutine until ctx is done.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Run(ctx)
	}()
}

// Wait blocks until a loop started with Start has returned.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Run drives ticks from the ticker until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	if !l.running.CompareAndSwap(false, true) {
		l.logger.Warn("loop already running")
		return
	}
	defer l.running.Store(false)

	tickerC, stop := l.newTicker(l.tick)
	defer stop()

	l.logger.Info("simulation loop started", zap.Duration("tick", l.tick))
	defer l.logger.Info("simulation loop stopped", zap.Uint64("ticks", l.ticks.Load()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickerC:
			l.Tick(l.now())
		}
	}
}

// Tick performs one simulation step: it feeds the delta since the previous
// tick to the monitor, runs queued tasks, then runs recurring callbacks.
func (l *Loop) Tick(now time.Time) {
	if !l.last.IsZero() && l.monitor != nil {
		l.monitor.Record(now.Sub(l.last))
	}
	l.last = now

	for _, task := range l.tasks.Drain(l.maxTasks) {
		l.runTask(task)
	}

	l.mu.Lock()
	current := append([]recurring(nil), l.recurring...)
	l.mu.Unlock()

	var done map[uint64]struct{}
	for _, r := range current {
		if l.runRecurring(r.fn) {
			continue
		}
		if done == nil {
			done = make(map[uint64]struct{})
		}
		done[r.id] = struct{}{}
	}
	if done != nil {
		l.mu.Lock()
		kept := l.recurring[:0]
		for _, r := range l.recurring {
			if _, ok := done[r.id]; !ok {
				kept = append(kept, r)
			}
		}
		clear(l.recurring[len(kept):])
		l.recurring = kept
		l.mu.Unlock()
	}
	l.ticks.Add(1)
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

func (l *Loop) runRecurring(fn func() bool) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("recurring callback panicked; removing it", zap.Any("panic", r))
			keep = false
		}
	}()
	return fn()
}

// Submit queues fn for the next tick.
func (l *Loop) Submit(fn func()) {
	l.tasks.Enqueue(fn)
}

// Do runs fn on the next tick and waits for it. It must not be called from
// the loop goroutine. When Do returns an error fn has not run and never will;
// once fn has started Do waits for it and returns nil.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var claimed atomic.Bool
	done := make(chan struct{})
	l.Submit(func() {
		if ctx.Err() != nil || !claimed.CompareAndSwap(false, true) {
			return
		}
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		<-done
		return nil
	}
}

// Every registers fn to run once per tick, starting with the next tick,
// until it returns false.
func (l *Loop) Every(fn func() bool) {
	l.mu.Lock()
	l.nextID++
	l.recurring = append(l.recurring, recurring{id: l.nextID, fn: fn})
	l.mu.Unlock()
}

// Pending reports queued tasks and registered recurring callbacks.
func (l *Loop) Pending() (tasks, recurringCallbacks int) {
	l.mu.Lock()
	recurringCallbacks = len(l.recurring)
	l.mu.Unlock()
	return l.tasks.Len(), recurringCallbacks
}
