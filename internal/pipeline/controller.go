package pipeline

import (
	"math"

	"voxedit/internal/monitor"
)

// controller is the adaptive pacing state. It is only touched by the
// consumer.
type controller struct {
	minBatch, maxBatch int
	maxDelay           int

	batchSize int
	delay     int
}

func newController(cfg Config) controller {
	c := controller{
		minBatch: cfg.MinBatch,
		maxBatch: cfg.MaxBatch,
		maxDelay: cfg.MaxDelayTicks,
		delay:    1,
	}
	c.batchSize = c.clampBatch(float64(cfg.InitialBatch))
	return c
}

func (c *controller) clampBatch(v float64) int {
	n := int(math.Round(v))
	return max(c.minBatch, min(c.maxBatch, n))
}

// adjust applies the control law for one tier observation.
func (c *controller) adjust(tier monitor.Tier) {
	size := float64(c.batchSize)
	switch tier {
	case monitor.TierExcellent:
		size *= 1.2
		c.delay--
	case monitor.TierGood:
		size *= 1.1
	case monitor.TierFair:
	case monitor.TierPoor:
		size *= 0.7
		c.delay++
	default:
		size /= 3
		c.delay += 2
	}
	c.batchSize = c.clampBatch(size)
	c.delay = max(1, min(c.maxDelay, c.delay))
}
