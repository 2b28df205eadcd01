package world

import (
	"fmt"
	"sync"
)

// Dimensions defines the footprint and vertical range of a chunk.
type Dimensions struct {
	Width  int
	Length int
	MinY   int
	Height int
}

func (d Dimensions) MaxY() int {
	return d.MinY + d.Height - 1
}

// Chunk stores the columns of one partition. Columns are trimmed of trailing
// air before they are persisted.
type Chunk struct {
	Key    ChunkCoord
	Origin Position

	mu        sync.RWMutex
	store     BlockStorage
	dimension Dimensions
}

func NewChunk(key ChunkCoord, dim Dimensions, store BlockStorage) *Chunk {
	return &Chunk{
		Key:       key,
		Origin:    Position{X: key.X * dim.Width, Y: dim.MinY, Z: key.Z * dim.Length},
		store:     store,
		dimension: dim,
	}
}

func (c *Chunk) Dimensions() Dimensions {
	return c.dimension
}

func (c *Chunk) columnIndex(localX, localZ int) int {
	return localZ*c.dimension.Width + localX
}

func trimColumn(column []Block) []Block {
	end := len(column)
	for end > 0 && column[end-1].IsAir() {
		end--
	}
	return column[:end]
}

func (c *Chunk) local(p Position) (int, int, int, bool) {
	lx := p.X - c.Origin.X
	ly := p.Y - c.dimension.MinY
	lz := p.Z - c.Origin.Z
	if lx < 0 || lz < 0 || ly < 0 ||
		lx >= c.dimension.Width || lz >= c.dimension.Length || ly >= c.dimension.Height {
		return 0, 0, 0, false
	}
	return lx, ly, lz, true
}

// Block returns the block at a global position inside the chunk.
func (c *Chunk) Block(p Position) (Block, error) {
	lx, ly, lz, ok := c.local(p)
	if !ok {
		return Block{}, fmt.Errorf("%w: %v not in chunk %v", ErrOutOfBounds, p, c.Key)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	column, found, err := c.store.LoadColumn(c.columnIndex(lx, lz))
	if err != nil {
		return Block{}, fmt.Errorf("chunk %v load column: %w", c.Key, err)
	}
	if !found || ly >= len(column) {
		return Air, nil
	}
	return column[ly].Normalize(), nil
}

// SetBlock writes a block at a global position inside the chunk and returns
// the previous value.
func (c *Chunk) SetBlock(p Position, block Block) (Block, error) {
	lx, ly, lz, ok := c.local(p)
	if !ok {
		return Block{}, fmt.Errorf("%w: %v not in chunk %v", ErrOutOfBounds, p, c.Key)
	}
	idx := c.columnIndex(lx, lz)

	c.mu.Lock()
	defer c.mu.Unlock()
	column, found, err := c.store.LoadColumn(idx)
	if err != nil {
		return Block{}, fmt.Errorf("chunk %v load column %d: %w", c.Key, idx, err)
	}
	previous := Air
	if found && ly < len(column) {
		previous = column[ly].Normalize()
	}
	if previous == block.Normalize() {
		return previous, nil
	}
	if ly >= len(column) {
		if block.IsAir() {
			return previous, nil
		}
		expanded := make([]Block, ly+1)
		copy(expanded, column)
		column = expanded
	}
	if block.IsAir() {
		column[ly] = Block{}
	} else {
		column[ly] = block
	}
	column = trimColumn(column)
	if len(column) == 0 {
		err = c.store.Delete(idx)
	} else {
		err = c.store.SaveColumn(idx, column)
	}
	if err != nil {
		return Block{}, fmt.Errorf("chunk %v persist column %d: %w", c.Key, idx, err)
	}
	return previous, nil
}

// SetColumnBlocks replaces the entire column at the given local coordinates.
func (c *Chunk) SetColumnBlocks(localX, localZ int, blocks []Block) error {
	if localX < 0 || localZ < 0 || localX >= c.dimension.Width || localZ >= c.dimension.Length {
		return fmt.Errorf("%w: column (%d,%d) in chunk %v", ErrOutOfBounds, localX, localZ, c.Key)
	}
	if len(blocks) > c.dimension.Height {
		blocks = blocks[:c.dimension.Height]
	}
	column := trimColumn(append([]Block(nil), blocks...))
	idx := c.columnIndex(localX, localZ)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(column) == 0 {
		return c.store.Delete(idx)
	}
	return c.store.SaveColumn(idx, column)
}

// HasStoredBlocks reports whether the chunk already has any persisted block data.
func (c *Chunk) HasStoredBlocks() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	has := false
	_ = c.store.ForEach(func(_ int, column []Block) bool {
		for _, block := range column {
			if !block.IsAir() {
				has = true
				return false
			}
		}
		return true
	})
	return has
}

// ForEachBlock visits every stored non-air block with its global position.
func (c *Chunk) ForEachBlock(fn func(p Position, block Block) bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	width := c.dimension.Width
	return c.store.ForEach(func(idx int, column []Block) bool {
		x := c.Origin.X + idx%width
		z := c.Origin.Z + idx/width
		for ly, block := range column {
			if block.IsAir() {
				continue
			}
			if !fn(Position{X: x, Y: c.dimension.MinY + ly, Z: z}, block) {
				return false
			}
		}
		return true
	})
}

// Close releases any resources held by the chunk's underlying storage.
func (c *Chunk) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Close()
}
