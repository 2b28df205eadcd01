package world

// BlockStorage persists the columns of a single chunk. Columns are indexed by
// z*width + x and hold blocks from minY upward.
type BlockStorage interface {
	LoadColumn(index int) ([]Block, bool, error)
	SaveColumn(index int, blocks []Block) error
	Delete(index int) error
	ForEach(fn func(index int, blocks []Block) bool) error
	Close() error
}

// StorageProvider creates block storage instances for chunks.
type StorageProvider interface {
	NewStorage(key ChunkCoord, dim Dimensions) (BlockStorage, error)
}
