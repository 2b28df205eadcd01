// Package clipboard holds copied voxel volumes and their transforms.
package clipboard

import (
	"errors"
	"fmt"

	"voxedit/internal/world"
)

var (
	ErrInvalidRotation = errors.New("rotation must be a multiple of 90 degrees")
	ErrInvalidAxis     = errors.New("flip axis must be x, y or z")
)

// Buffer is a sparse volume of values keyed by offset from its origin. Every
// key lies within [0,width)x[0,height)x[0,length).
type Buffer struct {
	origin world.Position
	width  int
	height int
	length int
	blocks map[world.Position]world.Block
}

// New returns an empty buffer of the given size.
func New(origin world.Position, width, height, length int) *Buffer {
	return &Buffer{
		origin: origin,
		width:  max(width, 0),
		height: max(height, 0),
		length: max(length, 0),
		blocks: make(map[world.Position]world.Block),
	}
}

// Copy captures every addressable cell of r from src. The buffer origin is
// the region's minimum corner.
func Copy(src world.Reader, r world.Region) *Buffer {
	buf := New(r.Min(), r.Width(), r.Height(), r.Length())
	r.ForEach(func(p world.Position) bool {
		if b, ok := src.Block(p); ok {
			buf.blocks[p.Sub(r.Min())] = b.Normalize()
		}
		return true
	})
	return buf
}

func (b *Buffer) Origin() world.Position { return b.origin }

// Size returns width (x), height (y) and length (z).
func (b *Buffer) Size() (int, int, int) { return b.width, b.height, b.length }

func (b *Buffer) Len() int { return len(b.blocks) }

func (b *Buffer) inBounds(rel world.Position) bool {
	return rel.X >= 0 && rel.Y >= 0 && rel.Z >= 0 &&
		rel.X < b.width && rel.Y < b.height && rel.Z < b.length
}

// Set stores a value at a relative offset.
func (b *Buffer) Set(rel world.Position, block world.Block) error {
	if !b.inBounds(rel) {
		return fmt.Errorf("clipboard offset %v outside %dx%dx%d", rel, b.width, b.height, b.length)
	}
	b.blocks[rel] = block.Normalize()
	return nil
}

// At returns the value stored at a relative offset.
func (b *Buffer) At(rel world.Position) (world.Block, bool) {
	block, ok := b.blocks[rel]
	return block, ok
}

// Each visits stored cells in region iteration order.
func (b *Buffer) Each(fn func(rel world.Position, block world.Block) bool) {
	if len(b.blocks) == 0 {
		return
	}
	world.RegionAt(world.Position{}, b.width, b.height, b.length).ForEach(func(p world.Position) bool {
		block, ok := b.blocks[p]
		if !ok {
			return true
		}
		return fn(p, block)
	})
}

// Rotate turns the buffer clockwise about the vertical axis. degrees must be
// a multiple of 90; 90 and 270 swap width and length.
func (b *Buffer) Rotate(degrees int) error {
	if degrees%90 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRotation, degrees)
	}
	turns := (degrees / 90) % 4
	if turns < 0 {
		turns += 4
	}
	for range turns {
		b.rotateQuarter()
	}
	return nil
}

func (b *Buffer) rotateQuarter() {
	rotated := make(map[world.Position]world.Block, len(b.blocks))
	for p, block := range b.blocks {
		rotated[world.Position{X: b.length - 1 - p.Z, Y: p.Y, Z: p.X}] = block
	}
	b.blocks = rotated
	b.width, b.length = b.length, b.width
}

// Flip mirrors the buffer along axis ("x", "y" or "z").
func (b *Buffer) Flip(axis string) error {
	var mirror func(world.Position) world.Position
	switch axis {
	case "x", "X":
		mirror = func(p world.Position) world.Position { p.X = b.width - 1 - p.X; return p }
	case "y", "Y":
		mirror = func(p world.Position) world.Position { p.Y = b.height - 1 - p.Y; return p }
	case "z", "Z":
		mirror = func(p world.Position) world.Position { p.Z = b.length - 1 - p.Z; return p }
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAxis, axis)
	}
	flipped := make(map[world.Position]world.Block, len(b.blocks))
	for p, block := range b.blocks {
		flipped[mirror(p)] = block
	}
	b.blocks = flipped
	return nil
}

// Clone returns an independent copy.
func (b *Buffer) Clone() *Buffer {
	out := New(b.origin, b.width, b.height, b.length)
	for p, block := range b.blocks {
		out.blocks[p] = block
	}
	return out
}
