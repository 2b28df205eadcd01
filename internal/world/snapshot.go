package world

// Snapshot is a dense read-only copy of a region taken on the simulation
// loop. Operations compute against snapshots off the loop.
type Snapshot struct {
	region Region
	blocks []Block
	known  []bool
}

func newSnapshot(r Region) *Snapshot {
	return &Snapshot{
		region: r,
		blocks: make([]Block, r.Volume()),
		known:  make([]bool, r.Volume()),
	}
}

// NewEmptySnapshot returns a snapshot of r with no cells captured yet. Fill it
// with Manager.SnapshotChunk.
func NewEmptySnapshot(r Region) *Snapshot { return newSnapshot(r) }

// NewSnapshot builds a snapshot of r from any reader.
func NewSnapshot(r Region, src Reader) *Snapshot {
	snap := newSnapshot(r)
	r.ForEach(func(p Position) bool {
		if b, ok := src.Block(p); ok {
			snap.set(p, b)
		}
		return true
	})
	return snap
}

func (s *Snapshot) set(p Position, b Block) {
	idx := s.region.Index(p)
	if idx < 0 {
		return
	}
	s.blocks[idx] = b.Normalize()
	s.known[idx] = true
}

func (s *Snapshot) Region() Region { return s.region }

// Block reports the captured value of p. Positions outside the captured
// region or outside the world are not addressable.
func (s *Snapshot) Block(p Position) (Block, bool) {
	idx := s.region.Index(p)
	if idx < 0 || !s.known[idx] {
		return Air, false
	}
	return s.blocks[idx], true
}
