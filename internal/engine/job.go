package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxedit/internal/pipeline"
)

// Outcome is the final result of a job.
type Outcome struct {
	Message  string
	Affected int
	Placed   int
	Skipped  int
	State    pipeline.State
	Err      error
	Elapsed  time.Duration
}

// Job is one submitted operation.
type Job struct {
	ID          uuid.UUID
	Actor       string
	Description string
	Started     time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	pipe     *pipeline.Pipeline
	progress []string
	outcome  Outcome
}

func newJob(actor, description string, started time.Time, cancel context.CancelFunc) *Job {
	return &Job{
		ID:          uuid.New(),
		Actor:       actor,
		Description: description,
		Started:     started,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Done is closed once the outcome is final.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel stops the job. Blocks already written stay written.
func (j *Job) Cancel() {
	j.cancel()
	j.mu.Lock()
	pipe := j.pipe
	j.mu.Unlock()
	if pipe != nil {
		pipe.Stop()
	}
}

// Outcome returns the final outcome, or the zero value while running.
func (j *Job) Outcome() Outcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome
}

// Wait blocks until the job finished or ctx is done.
func (j *Job) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-j.done:
		return j.Outcome(), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Progress returns the progress lines emitted so far.
func (j *Job) Progress() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.progress...)
}

// Report is the live pipeline report, false before application started.
func (j *Job) Report() (pipeline.Report, bool) {
	j.mu.Lock()
	pipe := j.pipe
	j.mu.Unlock()
	if pipe == nil {
		return pipeline.Report{}, false
	}
	return pipe.Report(), true
}

func (j *Job) String() string {
	return fmt.Sprintf("job %s (%s: %s)", j.ID, j.Actor, j.Description)
}

func (j *Job) attach(p *pipeline.Pipeline) {
	j.mu.Lock()
	j.pipe = p
	j.mu.Unlock()
}

func (j *Job) addProgress(msg string) {
	j.mu.Lock()
	j.progress = append(j.progress, msg)
	j.mu.Unlock()
}

func (j *Job) finish(o Outcome) {
	j.mu.Lock()
	j.outcome = o
	j.mu.Unlock()
	close(j.done)
}
