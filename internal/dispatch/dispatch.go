// Package dispatch runs fire-and-forget background jobs on a fixed pool of
// workers fed by a bounded queue. Submit never blocks the caller: when the
// queue is full the job is dropped and logged.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("dispatch queue closed")

// ErrQueueFull is returned by Submit when the job was dropped.
var ErrQueueFull = errors.New("dispatch queue full")

// Job is one unit of background work. It receives a context bounded by the
// queue's job timeout.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

type Queue struct {
	jobs    chan Job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Int64
	failed  atomic.Int64
}

type Option func(*Queue)

// WithJobTimeout bounds each job's run time. Default 10s.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// New starts workers goroutines reading from a queue of size capacity.
func New(capacity, workers int, logger *slog.Logger, opts ...Option) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if workers < 1 {
		workers = 1
	}
	q := &Queue{
		jobs:    make(chan Job, capacity),
		timeout: 10 * time.Second,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Submit enqueues job without blocking.
func (q *Queue) Submit(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.dropped.Add(1)
		q.logger.Warn("dispatch queue full, dropping job", "job", job.Name)
		return ErrQueueFull
	}
}

// Dropped is the number of jobs rejected because the queue was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Failed is the number of jobs that returned an error or panicked.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// Close stops accepting jobs and waits for queued jobs to finish or ctx to
// end, whichever comes first.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("dispatch job panicked", "job", job.Name, "panic", r)
		}
	}()

	if err := job.Run(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Error("dispatch job failed", "job", job.Name, "error", err)
	}
}
