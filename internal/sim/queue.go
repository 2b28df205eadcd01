package sim

import "sync"

type taskQueue struct {
	mu      sync.Mutex
	pending []func()
}

func (q *taskQueue) Enqueue(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, task)
}

// Drain removes up to max tasks in submission order; max <= 0 takes all.
func (q *taskQueue) Drain(max int) []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	if max <= 0 || max >= len(q.pending) {
		batch := q.pending
		q.pending = nil
		return batch
	}
	batch := append([]func(){}, q.pending[:max]...)
	clear(q.pending[:max])
	q.pending = q.pending[max:]
	return batch
}

func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
