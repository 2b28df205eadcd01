package operation

import (
	"context"
	"fmt"
	"math"

	"voxedit/internal/mask"
	"voxedit/internal/world"
)

const (
	smoothHalo    = 2
	smoothEpsilon = 0.01
)

// Smooth reshapes solid surfaces by letting every non-air cell take the value
// favoured by a distance-weighted vote over its 5x5x5 neighbourhood.
type Smooth struct {
	Region     world.Region
	Iterations int
	// HeightFactor scales vertical distance; values above 1 make vertical
	// neighbours count less.
	HeightFactor float64
	// MinConfidence is the total neighbour weight a vote needs before it may
	// replace a value.
	MinConfidence float64
	Mask          *mask.Mask
}

func (s *Smooth) params() (int, float64, float64) {
	iterations := max(s.Iterations, 1)
	height := s.HeightFactor
	if height <= 0 {
		height = 1
	}
	return iterations, height, math.Max(s.MinConfidence, 0)
}

func (s *Smooth) Bounds() world.Region {
	r := s.Region
	r.Outset(smoothHalo)
	return r
}

func (s *Smooth) VolumeEstimate() int {
	iterations, _, _ := s.params()
	return s.Region.Volume() * iterations
}

func (s *Smooth) Describe() string {
	iterations, _, _ := s.params()
	return fmt.Sprintf("smooth x%d", iterations)
}

func (s *Smooth) Execute(ctx context.Context, env Env) (*UndoUnit, error) {
	iterations, heightFactor, minConfidence := s.params()
	original := loadGrid(env.World, s.Bounds())

	// precomputed neighbourhood weights
	type tap struct {
		offset world.Position
		weight float64
	}
	taps := make([]tap, 0, 124)
	for dz := -smoothHalo; dz <= smoothHalo; dz++ {
		for dy := -smoothHalo; dy <= smoothHalo; dy++ {
			for dx := -smoothHalo; dx <= smoothHalo; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				vy := float64(dy) * heightFactor
				d := math.Sqrt(float64(dx*dx) + vy*vy + float64(dz*dz))
				taps = append(taps, tap{offset: world.Pos(dx, dy, dz), weight: 1 / (d + smoothEpsilon)})
			}
		}
	}

	current := original
	votes := make(map[world.Block]float64, 8)
	visited := 0
	for range iterations {
		next := current.clone()
		var err error
		s.Region.ForEach(func(p world.Position) bool {
			visited++
			if visited%cancelCheckInterval == 0 {
				if err = ctx.Err(); err != nil {
					return false
				}
			}
			value, ok := current.get(p)
			if !ok || value.IsAir() {
				return true
			}
			clear(votes)
			total := 0.0
			for _, t := range taps {
				neighbor, ok := current.get(p.Add(t.offset))
				if !ok {
					continue
				}
				votes[neighbor] += t.weight
				total += t.weight
			}
			if total < minConfidence {
				return true
			}
			if winner, ok := plurality(votes); ok {
				next.set(p, winner)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		current = next
	}

	c := newCollector(ctx, env, s.Mask, s.Describe())
	var err error
	s.Region.ForEach(func(p world.Position) bool {
		after, ok := current.get(p)
		if !ok {
			return true
		}
		err = c.set(p, after)
		return err == nil
	})
	if err != nil {
		return nil, err
	}
	return c.finish()
}

// plurality returns the value with the highest weight. A tie at the top
// reports false so the caller keeps the original value.
func plurality(votes map[world.Block]float64) (world.Block, bool) {
	var best world.Block
	bestWeight, runnerUp := -1.0, -1.0
	for b, w := range votes {
		switch {
		case w > bestWeight:
			runnerUp = bestWeight
			best, bestWeight = b, w
		case w > runnerUp:
			runnerUp = w
		}
	}
	if bestWeight < 0 || math.Abs(bestWeight-runnerUp) < 1e-9 {
		return world.Block{}, false
	}
	return best, true
}
