// Package execqueue provides the in-process execution job queue: bounded
// worker concurrency, an optional rate cap, retries with exponential backoff,
// and bounded retention of finished jobs.
package execqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/config"
	"github.com/codeclash-io/codeclash/pkg/metrics"
	"github.com/codeclash-io/codeclash/pkg/models"
)

// Backend executes a single job. The sandbox executor and the cloud judge
// adapter are interchangeable backends selected by configuration.
type Backend interface {
	Execute(ctx context.Context, req models.ExecutionRequest) (models.ExecutionResult, error)
}

// pendingBuffer bounds the number of queued-but-unclaimed jobs.
const pendingBuffer = 1024

// Queue is the execution job queue.
type Queue struct {
	backend Backend
	cfg     *config.ExecQueueConfig

	mu   sync.RWMutex
	jobs map[string]*job

	pending chan *job

	// rateCh paces job starts when RatePerSecond is set; nil disables pacing.
	rateTicker *time.Ticker

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a queue over the given backend.
func New(backend Backend, cfg *config.ExecQueueConfig) *Queue {
	return &Queue{
		backend: backend,
		cfg:     cfg,
		jobs:    make(map[string]*job),
		pending: make(chan *job, pendingBuffer),
		stopCh:  make(chan struct{}),
	}
}

// Start spawns the worker goroutines and the retention sweeper. Safe to call
// once; subsequent calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	if q.started {
		slog.Warn("Execution queue already started, ignoring duplicate Start call")
		return
	}
	q.started = true

	if q.cfg.RatePerSecond > 0 {
		q.rateTicker = time.NewTicker(time.Second / time.Duration(q.cfg.RatePerSecond))
	}

	slog.Info("Starting execution queue", "workers", q.cfg.WorkerCount, "rate_per_second", q.cfg.RatePerSecond)
	for i := 0; i < q.cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go q.runWorker(ctx, fmt.Sprintf("exec-worker-%d", i))
	}

	q.wg.Add(1)
	go q.runRetention()
}

// Stop signals workers to finish their current jobs and waits for them.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Execution queue stopped gracefully")
	case <-time.After(q.cfg.GracefulShutdownTimeout):
		slog.Warn("Execution queue shutdown timeout exceeded")
	}
	if q.rateTicker != nil {
		q.rateTicker.Stop()
	}
}

// Enqueue submits a job and returns its handle.
func (q *Queue) Enqueue(req models.ExecutionRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	j := &job{
		id:       uuid.New().String(),
		request:  req,
		enqueued: time.Now(),
		state:    JobStatePending,
		done:     make(chan struct{}),
	}

	q.mu.Lock()
	q.jobs[j.id] = j
	q.mu.Unlock()

	select {
	case q.pending <- j:
		metrics.QueueDepth.Inc()
		return j.id, nil
	case <-q.stopCh:
		q.mu.Lock()
		delete(q.jobs, j.id)
		q.mu.Unlock()
		return "", ErrQueueStopped
	default:
		q.mu.Lock()
		delete(q.jobs, j.id)
		q.mu.Unlock()
		return "", ErrQueueFull
	}
}

// AwaitResult blocks until the job reaches a terminal state or waitTimeout
// elapses. The final outcome is observable to the enqueuer: a completed job
// returns its result, a failed job returns its error.
func (q *Queue) AwaitResult(ctx context.Context, handle string, waitTimeout time.Duration) (models.ExecutionResult, error) {
	q.mu.RLock()
	j, ok := q.jobs[handle]
	q.mu.RUnlock()
	if !ok {
		return models.ExecutionResult{}, ErrJobNotFound
	}

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	select {
	case <-j.done:
		return j.outcome()
	case <-timer.C:
		return models.ExecutionResult{}, fmt.Errorf("execqueue: job %s not finished within %v", handle, waitTimeout)
	case <-ctx.Done():
		return models.ExecutionResult{}, ctx.Err()
	}
}

// State returns the job's current lifecycle state.
func (q *Queue) State(handle string) (JobState, error) {
	q.mu.RLock()
	j, ok := q.jobs[handle]
	q.mu.RUnlock()
	if !ok {
		return "", ErrJobNotFound
	}
	return j.snapshotState(), nil
}

// runWorker claims pending jobs and executes them with retry.
func (q *Queue) runWorker(ctx context.Context, workerID string) {
	defer q.wg.Done()
	log := slog.With("worker_id", workerID)
	log.Debug("Execution worker started")

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case j := <-q.pending:
			metrics.QueueDepth.Dec()
			if q.rateTicker != nil {
				select {
				case <-q.rateTicker.C:
				case <-q.stopCh:
					j.finish(JobStateFailed, models.ExecutionResult{}, ErrQueueStopped)
					return
				}
			}
			q.process(ctx, log, j)
		}
	}
}

// process runs a job with up to MaxAttempts tries. Only backend errors are
// retried; a result with TimedOut=true is a normal terminal outcome.
func (q *Queue) process(ctx context.Context, log *slog.Logger, j *job) {
	j.mu.Lock()
	j.state = JobStateRunning
	j.mu.Unlock()

	backoff := q.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		j.mu.Lock()
		j.attempts = attempt
		j.mu.Unlock()

		result, err := q.backend.Execute(ctx, j.request)
		if err == nil {
			j.finish(JobStateCompleted, result, nil)
			return
		}
		lastErr = err
		log.Warn("Execution attempt failed",
			"job_id", j.id, "attempt", attempt, "max_attempts", q.cfg.MaxAttempts, "error", err)

		if attempt < q.cfg.MaxAttempts {
			metrics.JobRetriesTotal.Inc()
			select {
			case <-time.After(backoff):
			case <-q.stopCh:
				j.finish(JobStateFailed, models.ExecutionResult{}, ErrQueueStopped)
				return
			case <-ctx.Done():
				j.finish(JobStateFailed, models.ExecutionResult{}, ctx.Err())
				return
			}
			backoff *= 2
		}
	}

	j.finish(JobStateFailed, models.ExecutionResult{}, fmt.Errorf("all %d attempts failed: %w", q.cfg.MaxAttempts, lastErr))
}

// runRetention periodically drops finished jobs past their retention window
// or beyond the per-state count cap.
func (q *Queue) runRetention() {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepRetention(time.Now())
		}
	}
}

type finishedJob struct {
	id string
	at time.Time
}

func (q *Queue) sweepRetention(now time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var completed, failed []finishedJob
	for id, j := range q.jobs {
		j.mu.Lock()
		state, at := j.state, j.finishedAt
		j.mu.Unlock()
		switch state {
		case JobStateCompleted:
			if now.Sub(at) > q.cfg.CompletedRetention {
				delete(q.jobs, id)
			} else {
				completed = append(completed, finishedJob{id, at})
			}
		case JobStateFailed:
			if now.Sub(at) > q.cfg.FailedRetention {
				delete(q.jobs, id)
			} else {
				failed = append(failed, finishedJob{id, at})
			}
		}
	}

	trimOldest(q.jobs, completed, q.cfg.CompletedMaxCount)
	trimOldest(q.jobs, failed, q.cfg.FailedMaxCount)
}

// trimOldest removes the oldest entries beyond the count cap.
func trimOldest(jobs map[string]*job, entries []finishedJob, maxCount int) {
	if len(entries) <= maxCount {
		return
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].at.Before(entries[k].at) })
	for _, e := range entries[:len(entries)-maxCount] {
		delete(jobs, e.id)
	}
}
