package world

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrOutOfBounds reports a position or partition outside the world.
	ErrOutOfBounds = errors.New("outside world bounds")
	// ErrNotResident reports a write into a partition that is not loaded.
	ErrNotResident = errors.New("chunk not resident")
)

// Reader is read access to voxel values. ok is false when the position is
// not addressable.
type Reader interface {
	Block(p Position) (Block, bool)
}

// Writer is write access to voxel values. applySideEffects=false defers any
// cascading recomputation until Settle is called for the position.
type Writer interface {
	Write(p Position, block Block, applySideEffects bool) error
}

// Generator populates a freshly created chunk.
type Generator interface {
	Generate(ctx context.Context, chunk *Chunk) error
}

// Options configures a Manager.
type Options struct {
	Dimensions    Dimensions
	Origin        ChunkCoord
	ChunksPerAxis int
	Storage       StorageProvider
	Generator     Generator
	Materials     *Materials
	Logger        *zap.Logger
}

// Manager keeps the authoritative voxel state. Mutating methods must only be
// called from the simulation loop goroutine.
type Manager struct {
	dim           Dimensions
	origin        ChunkCoord
	chunksPerAxis int
	storage       StorageProvider
	generator     Generator
	materials     *Materials
	logger        *zap.Logger

	mu     sync.RWMutex
	chunks map[ChunkCoord]*Chunk

	// NeighborUpdate, when set, is invoked for every position whose
	// neighbours must be re-evaluated after a deferred write.
	NeighborUpdate func(p Position)
}

func NewManager(opts Options) *Manager {
	if opts.Dimensions.Width <= 0 {
		opts.Dimensions.Width = 16
	}
	if opts.Dimensions.Length <= 0 {
		opts.Dimensions.Length = 16
	}
	if opts.Dimensions.Height <= 0 {
		opts.Dimensions.Height = 256
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorageProvider()
	}
	if opts.Materials == nil {
		opts.Materials = DefaultMaterials()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		dim:           opts.Dimensions,
		origin:        opts.Origin,
		chunksPerAxis: opts.ChunksPerAxis,
		storage:       opts.Storage,
		generator:     opts.Generator,
		materials:     opts.Materials,
		logger:        opts.Logger.Named("world"),
		chunks:        make(map[ChunkCoord]*Chunk),
	}
}

func (m *Manager) Dimensions() Dimensions { return m.dim }
func (m *Manager) Materials() *Materials  { return m.materials }

// ChunkOf returns the partition key for p.
func (m *Manager) ChunkOf(p Position) ChunkCoord {
	return p.Chunk(m.dim.Width, m.dim.Length)
}

// ContainsChunk reports whether coord lies within the configured chunk
// square. A non-positive ChunksPerAxis means unbounded.
func (m *Manager) ContainsChunk(coord ChunkCoord) bool {
	if m.chunksPerAxis <= 0 {
		return true
	}
	return coord.X >= m.origin.X && coord.Z >= m.origin.Z &&
		coord.X < m.origin.X+m.chunksPerAxis &&
		coord.Z < m.origin.Z+m.chunksPerAxis
}

func (m *Manager) addressable(p Position) bool {
	return p.Y >= m.dim.MinY && p.Y <= m.dim.MaxY() && m.ContainsChunk(m.ChunkOf(p))
}

func (m *Manager) IsResident(coord ChunkCoord) bool {
	m.mu.RLock()
	_, ok := m.chunks[coord]
	m.mu.RUnlock()
	return ok
}

// EnsureResident loads or generates the chunk at coord.
func (m *Manager) EnsureResident(coord ChunkCoord) error {
	_, err := m.chunk(context.Background(), coord)
	return err
}

func (m *Manager) chunk(ctx context.Context, coord ChunkCoord) (*Chunk, error) {
	if !m.ContainsChunk(coord) {
		return nil, fmt.Errorf("%w: chunk %v", ErrOutOfBounds, coord)
	}
	m.mu.RLock()
	ch, ok := m.chunks[coord]
	m.mu.RUnlock()
	if ok {
		return ch, nil
	}

	store, err := m.storage.NewStorage(coord, m.dim)
	if err != nil {
		return nil, fmt.Errorf("open storage for chunk %v: %w", coord, err)
	}
	ch = NewChunk(coord, m.dim, store)
	if m.generator != nil && !ch.HasStoredBlocks() {
		if err := m.generator.Generate(ctx, ch); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("generate chunk %v: %w", coord, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.chunks[coord]; ok {
		_ = ch.Close()
		return existing, nil
	}
	m.chunks[coord] = ch
	m.logger.Debug("chunk resident", zap.Stringer("chunk", coord))
	return ch, nil
}

// Unload releases a resident chunk.
func (m *Manager) Unload(coord ChunkCoord) error {
	m.mu.Lock()
	ch, ok := m.chunks[coord]
	delete(m.chunks, coord)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return ch.Close()
}

// ResidentChunks lists loaded chunks in a stable order.
func (m *Manager) ResidentChunks() []ChunkCoord {
	m.mu.RLock()
	out := make([]ChunkCoord, 0, len(m.chunks))
	for coord := range m.chunks {
		out = append(out, coord)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b ChunkCoord) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Z - b.Z
	})
	return out
}

// Block reads p, loading its chunk when needed.
func (m *Manager) Block(p Position) (Block, bool) {
	if !m.addressable(p) {
		return Air, false
	}
	ch, err := m.chunk(context.Background(), m.ChunkOf(p))
	if err != nil {
		m.logger.Warn("read failed", zap.Stringer("pos", p), zap.Error(err))
		return Air, false
	}
	b, err := ch.Block(p)
	if err != nil {
		m.logger.Warn("read failed", zap.Stringer("pos", p), zap.Error(err))
		return Air, false
	}
	return b, true
}

// Write stores block at p. The chunk must already be resident.
func (m *Manager) Write(p Position, block Block, applySideEffects bool) error {
	if !m.addressable(p) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, p)
	}
	coord := m.ChunkOf(p)
	m.mu.RLock()
	ch, ok := m.chunks[coord]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotResident, coord)
	}
	if _, err := ch.SetBlock(p, block); err != nil {
		return err
	}
	if applySideEffects {
		m.Settle([]Position{p})
	}
	return nil
}

// Loading returns a Writer that makes chunks resident before writing.
func (m *Manager) Loading() Writer {
	return loadingWriter{m: m}
}

type loadingWriter struct{ m *Manager }

func (w loadingWriter) Write(p Position, block Block, applySideEffects bool) error {
	if !w.m.addressable(p) {
		return fmt.Errorf("%w: %v", ErrOutOfBounds, p)
	}
	if err := w.m.EnsureResident(w.m.ChunkOf(p)); err != nil {
		return err
	}
	return w.m.Write(p, block, applySideEffects)
}

func (w loadingWriter) Settle(positions []Position) SettleReport {
	return w.m.Settle(positions)
}

// Snapshot copies every cell of r into a read-only view. Cells that are not
// addressable are reported as such by the snapshot.
func (m *Manager) Snapshot(r Region) *Snapshot {
	snap := newSnapshot(r)
	for _, coord := range r.Chunks(m.dim.Width, m.dim.Length) {
		m.SnapshotChunk(snap, coord)
	}
	return snap
}

// SnapshotChunk copies the cells of s's region that fall in partition coord.
// Calling it for every coord of s.Region().Chunks gives the same result as
// Snapshot, which lets a large capture be spread over several ticks.
func (m *Manager) SnapshotChunk(s *Snapshot, coord ChunkCoord) {
	lo, hi := s.region.Min(), s.region.Max()
	x0 := max(lo.X, coord.X*m.dim.Width)
	x1 := min(hi.X, (coord.X+1)*m.dim.Width-1)
	z0 := max(lo.Z, coord.Z*m.dim.Length)
	z1 := min(hi.Z, (coord.Z+1)*m.dim.Length-1)
	for z := z0; z <= z1; z++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for x := x0; x <= x1; x++ {
				p := Position{X: x, Y: y, Z: z}
				if b, ok := m.Block(p); ok {
					s.set(p, b)
				}
			}
		}
	}
}

// Close releases every resident chunk.
func (m *Manager) Close() error {
	m.mu.Lock()
	chunks := m.chunks
	m.chunks = make(map[ChunkCoord]*Chunk)
	m.mu.Unlock()
	var errs []error
	for _, ch := range chunks {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
