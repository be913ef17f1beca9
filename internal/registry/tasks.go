package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chainml/asset-registry/internal/metrics"
)

// job is one registration waiting for a worker. The pkhash has already
// been computed on the submitting goroutine.
type job struct {
	req    Request
	pkhash string
}

// TaskQueue runs registrations on a fixed worker pool so the
// HTTP-facing path returns as soon as the payload is hashed. Workers
// drive the same state machine as a synchronous Register call; only
// who waits for the outcome changes.
type TaskQueue struct {
	reg     *Registrar
	jobs    chan job
	metrics *metrics.Metrics
	log     *slog.Logger

	wg sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewTaskQueue starts a queue with the given worker count and backlog
// capacity.
func NewTaskQueue(reg *Registrar, workers, capacity int, m *metrics.Metrics) *TaskQueue {
	if workers < 1 {
		workers = 1
	}
	if capacity < 1 {
		capacity = workers
	}

	q := &TaskQueue{
		reg:     reg,
		jobs:    make(chan job, capacity),
		metrics: m,
		log:     slog.With("component", "tasks"),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit validates the request, hashes the payload, and queues the
// registration. The returned outcome is StatusPending with the
// computed pkhash; the commit itself runs on a worker. A full backlog
// is reported as an error outcome rather than blocking the caller.
func (q *TaskQueue) Submit(req Request) Outcome {
	pkhash, err := validate(req)
	if err != nil {
		q.reg.metrics.IncRegistration(string(req.Type), StatusInvalid.String())
		return Outcome{Status: StatusInvalid, Err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Outcome{Status: StatusError, Err: fmt.Errorf("registry: task queue is shut down")}
	}

	select {
	case q.jobs <- job{req: req, pkhash: pkhash}:
		q.metrics.SetTaskQueueDepth(float64(len(q.jobs)))
		return Outcome{
			Status: StatusPending,
			PKHash: pkhash,
			Data:   map[string]any{"pkhash": pkhash, "validated": false},
		}
	default:
		return Outcome{Status: StatusError, Err: fmt.Errorf("registry: task queue full (%d pending)", cap(q.jobs))}
	}
}

// worker drains the queue until Close.
func (q *TaskQueue) worker() {
	defer q.wg.Done()

	for j := range q.jobs {
		// Workers own the full orchestration lifetime; there is no
		// caller left to cancel on.
		out := q.reg.commit(context.Background(), j.req, j.pkhash)
		q.reg.metrics.IncRegistration(string(j.req.Type), out.Status.String())
		q.metrics.SetTaskQueueDepth(float64(len(q.jobs)))

		if out.Err != nil {
			q.log.Warn("background registration did not commit",
				"asset_type", j.req.Type, "pkhash", j.pkhash,
				"status", out.Status.String(), "error", out.Err)
		}
	}
}

// Close stops accepting work and blocks until every queued
// registration has reached a settled state.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.metrics.SetTaskQueueDepth(0)
}
