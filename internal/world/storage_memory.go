package world

import (
	"maps"
	"slices"
	"sync"
)

// memoryStorageProvider keeps every chunk in process memory. Storage for a
// key outlives Close so an unloaded chunk comes back with its edits.
type memoryStorageProvider struct {
	mu     sync.Mutex
	chunks map[ChunkCoord]*memoryBlockStorage
}

// NewMemoryStorageProvider keeps every chunk in process memory.
func NewMemoryStorageProvider() StorageProvider {
	return &memoryStorageProvider{chunks: make(map[ChunkCoord]*memoryBlockStorage)}
}

func (p *memoryStorageProvider) NewStorage(key ChunkCoord, _ Dimensions) (BlockStorage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if store, ok := p.chunks[key]; ok {
		return store, nil
	}
	store := &memoryBlockStorage{columns: make(map[int][]Block)}
	p.chunks[key] = store
	return store, nil
}

// memoryBlockStorage hands out copies so callers may mutate loaded columns.
type memoryBlockStorage struct {
	mu      sync.RWMutex
	columns map[int][]Block
}

func (m *memoryBlockStorage) LoadColumn(index int) ([]Block, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	column, ok := m.columns[index]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(column), true, nil
}

func (m *memoryBlockStorage) SaveColumn(index int, blocks []Block) error {
	column := slices.Clone(blocks)
	m.mu.Lock()
	m.columns[index] = column
	m.mu.Unlock()
	return nil
}

func (m *memoryBlockStorage) Delete(index int) error {
	m.mu.Lock()
	delete(m.columns, index)
	m.mu.Unlock()
	return nil
}

// ForEach visits columns in ascending index order.
func (m *memoryBlockStorage) ForEach(fn func(index int, blocks []Block) bool) error {
	m.mu.RLock()
	indexes := slices.Sorted(maps.Keys(m.columns))
	m.mu.RUnlock()
	for _, idx := range indexes {
		column, ok, _ := m.LoadColumn(idx)
		if !ok {
			continue
		}
		if !fn(idx, column) {
			break
		}
	}
	return nil
}

func (m *memoryBlockStorage) Close() error {
	return nil
}
