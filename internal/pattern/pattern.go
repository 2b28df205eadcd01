// Package pattern implements position-keyed value generators.
package pattern

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"voxedit/internal/clipboard"
	"voxedit/internal/terrain"
	"voxedit/internal/world"
)

// Kind tags a pattern node.
type Kind uint8

const (
	KindSingle Kind = iota
	KindWeighted
	KindNoise
	KindClipboard
)

// Pattern is a value generator tree. ValueAt may be called from any
// goroutine; weighted nodes serialize draws on their own stream.
type Pattern struct {
	kind Kind

	block world.Block

	children   []*Pattern
	weights    []float64
	thresholds []float64
	rngMu      sync.Mutex
	rng        *rand.Rand

	noise terrain.Noise
	scale float64

	clip   *clipboard.Buffer
	anchor world.Position
}

// Single always yields b.
func Single(b world.Block) *Pattern {
	return &Pattern{kind: KindSingle, block: b.Normalize()}
}

// Weighted returns an empty weighted choice. Its stream is seeded from rng,
// or randomly when rng is nil, and is not shared with other nodes.
func Weighted(rng *rand.Rand) *Pattern {
	seed1, seed2 := rand.Uint64(), rand.Uint64()
	if rng != nil {
		seed1, seed2 = rng.Uint64(), rng.Uint64()
	}
	return &Pattern{kind: KindWeighted, rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Add appends a weighted child and renormalizes the cumulative thresholds.
// Non-positive weights are ignored.
func (p *Pattern) Add(child *Pattern, weight float64) *Pattern {
	if p.kind != KindWeighted || child == nil || weight <= 0 {
		return p
	}
	p.children = append(p.children, child)
	p.weights = append(p.weights, weight)

	total := 0.0
	for _, w := range p.weights {
		total += w
	}
	p.thresholds = p.thresholds[:0]
	acc := 0.0
	for _, w := range p.weights {
		acc += w / total
		p.thresholds = append(p.thresholds, acc)
	}
	p.thresholds[len(p.thresholds)-1] = 1
	return p
}

// Noise picks among children by coherent 3D noise sampled at position/scale.
func Noise(noise terrain.Noise, scale float64, children ...*Pattern) *Pattern {
	if scale <= 0 {
		scale = 1
	}
	return &Pattern{kind: KindNoise, noise: noise, scale: scale, children: children}
}

// Clipboard tiles buf so that its offset (0,0,0) lands on anchor.
func Clipboard(buf *clipboard.Buffer, anchor world.Position) *Pattern {
	return &Pattern{kind: KindClipboard, clip: buf, anchor: anchor}
}

func (p *Pattern) Kind() Kind { return p.kind }

// Thresholds exposes the cumulative weight list of a weighted node.
func (p *Pattern) Thresholds() []float64 {
	return append([]float64(nil), p.thresholds...)
}

// ValueAt returns the generated value for pos. ok is false when the pattern
// yields nothing there and the position should be left untouched.
func (p *Pattern) ValueAt(pos world.Position) (world.Block, bool) {
	return eval(p, pos)
}

func eval(p *Pattern, pos world.Position) (world.Block, bool) {
	if p == nil {
		return world.Block{}, false
	}
	switch p.kind {
	case KindSingle:
		return p.block, true
	case KindWeighted:
		if len(p.children) == 0 {
			return world.Block{}, false
		}
		p.rngMu.Lock()
		draw := p.rng.Float64()
		p.rngMu.Unlock()
		for i, threshold := range p.thresholds {
			if draw < threshold {
				return eval(p.children[i], pos)
			}
		}
		return eval(p.children[len(p.children)-1], pos)
	case KindNoise:
		if len(p.children) == 0 {
			return world.Block{}, false
		}
		v := p.noise.Value3D(float64(pos.X)/p.scale, float64(pos.Y)/p.scale, float64(pos.Z)/p.scale)
		idx := int((v + 1) / 2 * float64(len(p.children)))
		idx = min(max(idx, 0), len(p.children)-1)
		return eval(p.children[idx], pos)
	case KindClipboard:
		if p.clip == nil {
			return world.Block{}, false
		}
		w, h, l := p.clip.Size()
		if w == 0 || h == 0 || l == 0 {
			return world.Block{}, false
		}
		rel := pos.Sub(p.anchor)
		rel = world.Position{X: world.FloorMod(rel.X, w), Y: world.FloorMod(rel.Y, h), Z: world.FloorMod(rel.Z, l)}
		return p.clip.At(rel)
	default:
		return world.Block{}, false
	}
}

func (p *Pattern) String() string {
	if p == nil {
		return "<none>"
	}
	switch p.kind {
	case KindSingle:
		return p.block.String()
	case KindWeighted:
		parts := make([]string, len(p.children))
		total := 0.0
		for _, w := range p.weights {
			total += w
		}
		for i, child := range p.children {
			parts[i] = fmt.Sprintf("%g%%%s", p.weights[i]/total*100, child)
		}
		return strings.Join(parts, ",")
	case KindNoise:
		parts := make([]string, len(p.children))
		for i, child := range p.children {
			parts[i] = child.String()
		}
		return fmt.Sprintf("#noise:%g:%s", p.scale, strings.Join(parts, ","))
	case KindClipboard:
		return "#clipboard"
	default:
		return "?"
	}
}
