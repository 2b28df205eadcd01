// Package metrics holds the prometheus collectors for the edit pipeline and
// the engine. All recording methods are safe on a nil receiver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voxedit"

// Pipeline tracks batch application.
type Pipeline struct {
	placed     prometheus.Counter
	skipped    *prometheus.CounterVec
	batches    prometheus.Counter
	emptyPolls prometheus.Counter
	fallen     prometheus.Counter
	batchSize  prometheus.Gauge
	delayTicks prometheus.Gauge
	throughput prometheus.Gauge
	tier       prometheus.Gauge
}

// NewPipeline registers the pipeline collectors with reg. A nil reg leaves
// them unregistered.
func NewPipeline(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		placed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "placed_total",
			Help:      "Block changes written by the pipeline consumer",
		}),
		// reason: residency, write, cancelled, abandoned
		skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "skipped_total",
			Help:      "Block changes that were not applied",
		}, []string{"reason"}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batches_total",
			Help:      "Prepared batches fully consumed",
		}),
		emptyPolls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "empty_polls_total",
			Help:      "Consumer invocations that found no prepared batch",
		}),
		fallen: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "settle_fallen_total",
			Help:      "Gravity blocks moved by deferred settling",
		}),
		batchSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_size",
			Help:      "Current adaptive batch size",
		}),
		delayTicks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "delay_ticks",
			Help:      "Current pacing delay between consumer runs",
		}),
		throughput: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "throughput_ratio",
			Help:      "Target tick over measured mean tick delta",
		}),
		tier: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "tier",
			Help:      "Throughput tier, 0 very poor through 4 excellent",
		}),
	}
}

func (p *Pipeline) Placed(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.placed.Add(float64(n))
}

func (p *Pipeline) Skipped(reason string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.skipped.WithLabelValues(reason).Add(float64(n))
}

func (p *Pipeline) BatchConsumed() {
	if p == nil {
		return
	}
	p.batches.Inc()
}

func (p *Pipeline) EmptyPoll() {
	if p == nil {
		return
	}
	p.emptyPolls.Inc()
}

func (p *Pipeline) Fallen(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.fallen.Add(float64(n))
}

// Controller publishes the adaptive controller state together with the
// monitor reading it was derived from.
func (p *Pipeline) Controller(batchSize, delayTicks int, throughput float64, tier int) {
	if p == nil {
		return
	}
	p.batchSize.Set(float64(batchSize))
	p.delayTicks.Set(float64(delayTicks))
	p.throughput.Set(throughput)
	p.tier.Set(float64(tier))
}

// Engine tracks submitted operations and history replays.
type Engine struct {
	jobs     *prometheus.CounterVec
	rejected *prometheus.CounterVec
	affected prometheus.Counter
	duration prometheus.Histogram
	replays  *prometheus.CounterVec
}

func NewEngine(reg prometheus.Registerer) *Engine {
	f := promauto.With(reg)
	return &Engine{
		// outcome: completed, cancelled, failed
		jobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "jobs_total",
			Help:      "Finished edit jobs by outcome",
		}, []string{"outcome"}),
		// reason: volume, rate, parse, selection, clipboard
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rejected_total",
			Help:      "Edits rejected before any work started",
		}, []string{"reason"}),
		affected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "affected_blocks_total",
			Help:      "Block changes produced by executed operations",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "job_duration_seconds",
			Help:      "Wall time from submission to completion",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		// kind: undo, redo, empty
		replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "replays_total",
			Help:      "Undo and redo requests",
		}, []string{"kind"}),
	}
}

func (e *Engine) Job(outcome string, affected int, seconds float64) {
	if e == nil {
		return
	}
	e.jobs.WithLabelValues(outcome).Inc()
	if affected > 0 {
		e.affected.Add(float64(affected))
	}
	e.duration.Observe(seconds)
}

func (e *Engine) Rejected(reason string) {
	if e == nil {
		return
	}
	e.rejected.WithLabelValues(reason).Inc()
}

func (e *Engine) Replay(kind string) {
	if e == nil {
		return
	}
	e.replays.WithLabelValues(kind).Inc()
}
