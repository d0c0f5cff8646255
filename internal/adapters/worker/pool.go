package worker

import (
	"context"
	"sync"

	"github.com/loomworks/loom/internal/core/domain"
	"github.com/loomworks/loom/internal/core/ports"
)

var _ ports.Backend = (*Pool)(nil)

// jobQueueFactor sizes the job queue relative to the worker count so bursts
// of submissions do not block the scheduler loop.
const jobQueueFactor = 4

type job struct {
	ctx   context.Context
	order *domain.WorkOrder
	f     *future
}

// Pool is a backend with a fixed set of persistent workers draining a shared
// job queue. It bounds build concurrency independently of the scheduler's
// dispatch window.
type Pool struct {
	executor ports.Executor
	tracer   ports.Tracer
	jobs     chan job
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool with the given number of workers and starts them.
func NewPool(executor ports.Executor, tracer ports.Tracer, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}

	p := &Pool{
		executor: executor,
		tracer:   tracer,
		jobs:     make(chan job, workers*jobQueueFactor),
	}

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}

	return p
}

// worker is the processing loop for a single persistent worker.
func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.jobs {
		if err := j.ctx.Err(); err != nil {
			j.f.complete(nil, err)
			continue
		}
		j.f.complete(execute(j.ctx, p.executor, p.tracer, j.order))
	}
}

// Submit enqueues the work order for the next free worker.
// The mutex is held across the send so Close cannot close the queue under a
// blocked submission. Workers drain the queue without taking the mutex, so
// a full queue still makes progress.
func (p *Pool) Submit(ctx context.Context, order *domain.WorkOrder) (ports.Future, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, &domain.BuildError{
			Target:    order.Target.String(),
			Cause:     domain.ErrBackendClosed,
			Retryable: true,
		}
	}

	f := newFuture()
	select {
	case p.jobs <- job{ctx: ctx, order: order, f: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting work, drains the queue, and waits for the workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
	return nil
}
