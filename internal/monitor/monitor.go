// Package monitor samples simulation tick deltas and turns them into a
// throughput signal.
package monitor

import (
	"sync"
	"time"
)

// Tier is an ordinal load bucket, worst first.
type Tier int

const (
	TierVeryPoor Tier = iota
	TierPoor
	TierFair
	TierGood
	TierExcellent
)

func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	case TierPoor:
		return "poor"
	default:
		return "very_poor"
	}
}

// Thresholds are the minimum throughput ratios for each tier. Anything
// below Poor is VeryPoor.
type Thresholds struct {
	Excellent float64
	Good      float64
	Fair      float64
	Poor      float64
}

var DefaultThresholds = Thresholds{Excellent: 0.95, Good: 0.85, Fair: 0.7, Poor: 0.5}

type Config struct {
	// TargetTick is the intended interval between ticks.
	TargetTick time.Duration
	// Window is how many recent deltas are averaged.
	Window     int
	Thresholds Thresholds
}

func (c Config) withDefaults() Config {
	if c.TargetTick <= 0 {
		c.TargetTick = 50 * time.Millisecond
	}
	if c.Window <= 0 {
		c.Window = 100
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	return c
}

// Monitor keeps a rolling window of tick deltas. It is created and started
// by whoever owns the simulation loop and handed to consumers explicitly.
type Monitor struct {
	cfg Config

	mu       sync.Mutex
	samples  []time.Duration
	next     int
	count    int
	sum      time.Duration
	sampling bool
}

func New(cfg Config) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{cfg: cfg, samples: make([]time.Duration, cfg.Window)}
}

func (m *Monitor) Config() Config { return m.cfg }

// Start enables sampling and clears any previous window.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.samples)
	m.next, m.count, m.sum = 0, 0, 0
	m.sampling = true
}

// Stop disables sampling; the current window stays readable.
func (m *Monitor) Stop() {
	m.mu.Lock()
	m.sampling = false
	m.mu.Unlock()
}

func (m *Monitor) Sampling() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sampling
}

// Record adds the delta between two consecutive tick timestamps.
func (m *Monitor) Record(delta time.Duration) {
	if delta <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sampling {
		return
	}
	if m.count == len(m.samples) {
		m.sum -= m.samples[m.next]
	} else {
		m.count++
	}
	m.samples[m.next] = delta
	m.sum += delta
	m.next = (m.next + 1) % len(m.samples)
}

func (m *Monitor) meanLocked() time.Duration {
	if m.count == 0 {
		return 0
	}
	return m.sum / time.Duration(m.count)
}

// Mean is the average recorded delta, zero without samples.
func (m *Monitor) Mean() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meanLocked()
}

// Throughput is target tick over mean delta, clamped to [0, 1]. Without
// samples the loop is assumed healthy.
func (m *Monitor) Throughput() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.throughputLocked()
}

func (m *Monitor) throughputLocked() float64 {
	mean := m.meanLocked()
	if mean <= 0 {
		return 1
	}
	return min(1, float64(m.cfg.TargetTick)/float64(mean))
}

// Tier buckets the current throughput.
func (m *Monitor) Tier() Tier {
	return m.cfg.Thresholds.Classify(m.Throughput())
}

// Classify maps a throughput ratio onto a tier.
func (t Thresholds) Classify(throughput float64) Tier {
	switch {
	case throughput >= t.Excellent:
		return TierExcellent
	case throughput >= t.Good:
		return TierGood
	case throughput >= t.Fair:
		return TierFair
	case throughput >= t.Poor:
		return TierPoor
	default:
		return TierVeryPoor
	}
}

// TPS is the measured tick rate.
func (m *Monitor) TPS() float64 {
	mean := m.Mean()
	if mean <= 0 {
		return float64(time.Second) / float64(m.cfg.TargetTick)
	}
	return float64(time.Second) / float64(mean)
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	Samples    int
	Mean       time.Duration
	Throughput float64
	Tier       Tier
}

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp := m.throughputLocked()
	return Stats{
		Samples:    m.count,
		Mean:       m.meanLocked(),
		Throughput: tp,
		Tier:       m.cfg.Thresholds.Classify(tp),
	}
}
