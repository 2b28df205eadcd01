package world

import (
	"fmt"
	"iter"
)

// ChunkCoord identifies a column chunk, the unit of residency.
type ChunkCoord struct {
	X int
	Z int
}

func (c ChunkCoord) String() string {
	return fmt.Sprintf("[%d, %d]", c.X, c.Z)
}

// Region is an axis-aligned box between two inclusive corners. The
// normalized min/max corners are recomputed whenever a corner changes.
type Region struct {
	pos1 Position
	pos2 Position
	min  Position
	max  Position
}

func NewRegion(a, b Position) Region {
	r := Region{pos1: a, pos2: b}
	r.normalize()
	return r
}

// RegionAt returns the region spanning width x height x length cells from origin.
func RegionAt(origin Position, width, height, length int) Region {
	return NewRegion(origin, origin.Add(Position{X: width - 1, Y: height - 1, Z: length - 1}))
}

func (r *Region) normalize() {
	r.min = r.pos1.Min(r.pos2)
	r.max = r.pos1.Max(r.pos2)
}

func (r *Region) SetPos1(p Position) {
	r.pos1 = p
	r.normalize()
}

func (r *Region) SetPos2(p Position) {
	r.pos2 = p
	r.normalize()
}

func (r Region) Pos1() Position { return r.pos1 }
func (r Region) Pos2() Position { return r.pos2 }
func (r Region) Min() Position  { return r.min }
func (r Region) Max() Position  { return r.max }

func (r Region) Width() int  { return r.max.X - r.min.X + 1 }
func (r Region) Height() int { return r.max.Y - r.min.Y + 1 }
func (r Region) Length() int { return r.max.Z - r.min.Z + 1 }

func (r Region) Volume() int {
	return r.Width() * r.Height() * r.Length()
}

func (r Region) Contains(p Position) bool {
	return p.X >= r.min.X && p.X <= r.max.X &&
		p.Y >= r.min.Y && p.Y <= r.max.Y &&
		p.Z >= r.min.Z && p.Z <= r.max.Z
}

// Center returns the cell closest to the middle of the region.
func (r Region) Center() Position {
	return Position{
		X: r.min.X + (r.Width()-1)/2,
		Y: r.min.Y + (r.Height()-1)/2,
		Z: r.min.Z + (r.Length()-1)/2,
	}
}

// Expand grows the region by delta along each axis; positive components move
// the max face outward, negative components move the min face outward.
func (r *Region) Expand(delta Position) {
	r.moveFaces(delta, true)
}

// Contract shrinks the region by delta along each axis, never past a single cell.
func (r *Region) Contract(delta Position) {
	r.moveFaces(delta, false)
}

func (r *Region) moveFaces(delta Position, grow bool) {
	lo, hi := r.min, r.max
	apply := func(d int, lo, hi *int) {
		switch {
		case d > 0 && grow:
			*hi += d
		case d < 0 && grow:
			*lo += d
		case d > 0:
			*lo = min(*lo+d, *hi)
		case d < 0:
			*hi = max(*hi+d, *lo)
		}
	}
	apply(delta.X, &lo.X, &hi.X)
	apply(delta.Y, &lo.Y, &hi.Y)
	apply(delta.Z, &lo.Z, &hi.Z)
	r.pos1, r.pos2 = lo, hi
	r.normalize()
}

// Outset grows every face by n cells.
func (r *Region) Outset(n int) {
	r.pos1 = r.min.Sub(Position{X: n, Y: n, Z: n})
	r.pos2 = r.max.Add(Position{X: n, Y: n, Z: n})
	r.normalize()
}

// Shift moves both corners by delta.
func (r *Region) Shift(delta Position) {
	r.pos1 = r.pos1.Add(delta)
	r.pos2 = r.pos2.Add(delta)
	r.normalize()
}

// ForEach visits every cell with x varying fastest, then y, then z. Returning
// false from fn stops the iteration.
func (r Region) ForEach(fn func(Position) bool) {
	for z := r.min.Z; z <= r.max.Z; z++ {
		for y := r.min.Y; y <= r.max.Y; y++ {
			for x := r.min.X; x <= r.max.X; x++ {
				if !fn(Position{X: x, Y: y, Z: z}) {
					return
				}
			}
		}
	}
}

// All yields cells in the same order as ForEach.
func (r Region) All() iter.Seq[Position] {
	return func(yield func(Position) bool) {
		r.ForEach(yield)
	}
}

// Index returns the offset of p in iteration order, or -1 when p lies outside.
func (r Region) Index(p Position) int {
	if !r.Contains(p) {
		return -1
	}
	w, h := r.Width(), r.Height()
	return (p.X - r.min.X) + (p.Y-r.min.Y)*w + (p.Z-r.min.Z)*w*h
}

// Chunks lists every partition the region overlaps.
func (r Region) Chunks(width, length int) []ChunkCoord {
	lo := r.min.Chunk(width, length)
	hi := r.max.Chunk(width, length)
	out := make([]ChunkCoord, 0, (hi.X-lo.X+1)*(hi.Z-lo.Z+1))
	for cz := lo.Z; cz <= hi.Z; cz++ {
		for cx := lo.X; cx <= hi.X; cx++ {
			out = append(out, ChunkCoord{X: cx, Z: cz})
		}
	}
	return out
}

func (r Region) String() string {
	return fmt.Sprintf("%v-%v", r.min, r.max)
}
