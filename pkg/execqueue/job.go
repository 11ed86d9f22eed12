package execqueue

import (
	"errors"
	"sync"
	"time"

	"github.com/codeclash-io/codeclash/pkg/models"
)

// JobState is the lifecycle state of an execution job.
type JobState string

// Job lifecycle states.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Queue errors.
var (
	ErrJobNotFound  = errors.New("execqueue: job not found")
	ErrQueueStopped = errors.New("execqueue: queue stopped")
	ErrQueueFull    = errors.New("execqueue: queue full")
)

// job tracks a single enqueued execution from submission to retention expiry.
type job struct {
	id       string
	request  models.ExecutionRequest
	enqueued time.Time

	mu         sync.Mutex
	state      JobState
	attempts   int
	result     models.ExecutionResult
	err        error
	finishedAt time.Time

	// done is closed exactly once when the job reaches a terminal state.
	done chan struct{}
}

func (j *job) snapshotState() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *job) finish(state JobState, result models.ExecutionResult, err error) {
	j.mu.Lock()
	j.state = state
	j.result = result
	j.err = err
	j.finishedAt = time.Now()
	j.mu.Unlock()
	close(j.done)
}

func (j *job) outcome() (models.ExecutionResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.err
}
