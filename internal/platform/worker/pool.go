// Package worker provides a small bounded pool for background jobs that
// must never block request handling.
package worker

import (
	"context"
	"sync"
)

// Job is a unit of background work.
type Job struct {
	// ID identifies the job in logs.
	ID string
	// Execute runs the job. The context is the pool's context and is
	// cancelled when the pool closes.
	Execute func(ctx context.Context) error
}

// Pool runs jobs on a fixed set of goroutines. Submission is
// non-blocking: when the queue is full the job is dropped, which is the
// right trade-off for fire-and-forget work like alert publishing.
type Pool struct {
	workers  int
	jobQueue chan Job
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.Mutex
	dropped int64
}

// NewPool creates a pool with the given worker count and queue depth and
// starts it immediately.
func NewPool(ctx context.Context, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:  workers,
		jobQueue: make(chan Job, queueSize),
		ctx:      poolCtx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			_ = job.Execute(p.ctx)
		}
	}
}

// TrySubmit enqueues a job without blocking. Reports false when the
// queue is full or the pool is closed; the job is then dropped.
func (p *Pool) TrySubmit(job Job) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.jobQueue <- job:
		return true
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return false
	}
}

// Dropped returns the number of jobs rejected because the queue was full.
func (p *Pool) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting jobs and waits for in-flight work to finish.
// Queued but unstarted jobs are abandoned.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}
