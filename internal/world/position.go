package world

import "fmt"

// Position is an integer voxel coordinate. Y is the vertical axis.
type Position struct {
	X int
	Y int
	Z int
}

func Pos(x, y, z int) Position {
	return Position{X: x, Y: y, Z: z}
}

func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Min returns the componentwise minimum of p and o.
func (p Position) Min(o Position) Position {
	return Position{X: min(p.X, o.X), Y: min(p.Y, o.Y), Z: min(p.Z, o.Z)}
}

// Max returns the componentwise maximum of p and o.
func (p Position) Max(o Position) Position {
	return Position{X: max(p.X, o.X), Y: max(p.Y, o.Y), Z: max(p.Z, o.Z)}
}

func (p Position) Up() Position   { return Position{X: p.X, Y: p.Y + 1, Z: p.Z} }
func (p Position) Down() Position { return Position{X: p.X, Y: p.Y - 1, Z: p.Z} }

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Y, p.Z)
}

// Chunk returns the partition key of the column chunk containing p.
func (p Position) Chunk(width, length int) ChunkCoord {
	return ChunkCoord{X: FloorDiv(p.X, width), Z: FloorDiv(p.Z, length)}
}

// Neighbors6 lists the face-adjacent offsets.
var Neighbors6 = [...]Position{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(value, size int) int {
	if size <= 0 {
		return 0
	}
	if value >= 0 {
		return value / size
	}
	return -((-value - 1) / size) - 1
}

// FloorMod is the non-negative remainder matching FloorDiv.
func FloorMod(value, size int) int {
	if size <= 0 {
		return 0
	}
	m := value % size
	if m < 0 {
		m += size
	}
	return m
}
