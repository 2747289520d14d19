package reactor

import (
	"context"
	"sync"

	"github.com/roach88/docsync/internal/ir"
)

type jobKind int

const (
	jobWrite jobKind = iota + 1
	jobLoad
)

func (k jobKind) String() string {
	switch k {
	case jobWrite:
		return "write"
	case jobLoad:
		return "load"
	default:
		return "unknown"
	}
}

// job is one unit of work for the Run loop. done is buffered so the loop
// never blocks on a caller that stopped waiting.
type job struct {
	kind   jobKind
	write  WriteRequest
	ops    []ir.OperationWithContext
	source string
	done   chan jobResult
}

type jobResult struct {
	result Result
	err    error
}

func newJob(kind jobKind) *job {
	return &job{kind: kind, done: make(chan jobResult, 1)}
}

func (j *job) finish(res Result, err error) {
	j.done <- jobResult{result: res, err: err}
}

// wait blocks until the job is processed or ctx is done. A job abandoned by
// its caller still runs.
func (j *job) wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-j.done:
		return r.result, r.err
	}
}

// jobQueue is an unbounded FIFO of jobs.
//
// Enqueue is safe from any goroutine; the Run loop is the only consumer. The
// signal channel (buffered, size 1) coalesces wake-ups and is closed by
// Close so a waiting loop observes shutdown.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*job
	closed bool
	signal chan struct{}
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends j. Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job without blocking.
func (q *jobQueue) TryDequeue() (*job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns a channel that fires when jobs may be available, and stays
// ready once the queue is closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether Close has been called.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close rejects further jobs and wakes the consumer. Idempotent.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Drain closes the queue and returns whatever was still queued.
func (q *jobQueue) Drain() []*job {
	q.Close()
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.jobs
	q.jobs = nil
	return out
}
