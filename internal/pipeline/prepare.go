package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"voxedit/internal/world"
)

// Entry is one precomputed change.
type Entry struct {
	Pos   world.Position
	Block world.Block
}

// Classifier orders and flags values. *world.Materials implements it.
type Classifier interface {
	Priority(b world.Block) int
	NeedsDeferred(b world.Block) bool
}

// group is a run of entries sharing one partition.
type group struct {
	coord   world.ChunkCoord
	entries []Entry
}

// batch is one prepared chunk of the change list.
type batch struct {
	groups   []group
	size     int
	deferred bool
}

// sortByPriority returns a copy of entries stably ordered by priority.
func sortByPriority(entries []Entry, classes Classifier) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		return cmp.Compare(classes.Priority(a.Block), classes.Priority(b.Block))
	})
	return sorted
}

// prepareBatch groups entries by partition in first-seen order and flags
// the batch when any value needs deferred settling.
func prepareBatch(entries []Entry, chunkOf func(world.Position) world.ChunkCoord, classes Classifier) batch {
	b := batch{size: len(entries)}
	index := make(map[world.ChunkCoord]int)
	for _, e := range entries {
		coord := chunkOf(e.Pos)
		i, ok := index[coord]
		if !ok {
			i = len(b.groups)
			index[coord] = i
			b.groups = append(b.groups, group{coord: coord})
		}
		b.groups[i].entries = append(b.groups[i].entries, e)
		if !b.deferred && classes.NeedsDeferred(e.Block) {
			b.deferred = true
		}
	}
	return b
}

// produce sorts the change list, splits it into chunkSize pieces and
// prepares them on a bounded worker pool. Prepared batches reach the queue
// in list order, so a batch is never applied before the ones sorted ahead
// of it. Sends block while the queue is full and give up when ctx is
// cancelled.
func (p *Pipeline) produce(ctx context.Context, entries []Entry) error {
	sorted := sortByPriority(entries, p.classes)
	n := (len(sorted) + p.cfg.ChunkSize - 1) / p.cfg.ChunkSize
	results := make([]chan batch, n)
	for i := range results {
		results[i] = make(chan batch, 1)
	}

	// A worker slot is freed when its batch is emitted, which bounds the
	// prepared batches waiting behind a slow one.
	workers := make(chan struct{}, p.cfg.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, ch := range results {
			var b batch
			select {
			case b = <-ch:
				<-workers
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case p.queue <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := range results {
		select {
		case workers <- struct{}{}:
		case <-gctx.Done():
		}
		if gctx.Err() != nil {
			break
		}
		start := i * p.cfg.ChunkSize
		chunk := sorted[start:min(start+p.cfg.ChunkSize, len(sorted))]
		out := results[i]
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("prepare batch: %v", r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			out <- prepareBatch(chunk, p.target.ChunkOf, p.classes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
