package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/smith3v/pdf-word-trainer/pkg/logger"
	"github.com/smith3v/pdf-word-trainer/pkg/metrics"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrQueueFull  = errors.New("job queue is full")
)

// Job is a unit of work run by the Pool. Errors are logged; the outcome that
// matters is recorded in the database by the job itself.
type Job func(ctx context.Context) error

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
// A panicking job is logged and does not take its worker down.
type Pool struct {
	jobs    chan Job
	wg      sync.WaitGroup
	workers int
	closeMu sync.Mutex
	closed  bool
	cancel  context.CancelFunc
}

func NewPool(workers, queue int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = workers * 2
	}
	return &Pool{
		jobs:    make(chan Job, queue),
		workers: workers,
	}
}

// Start launches the workers. They stop when ctx is done or Close is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.closeMu.Lock()
	p.cancel = cancel
	p.closeMu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(worker int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					metrics.QueueDepth.Set(float64(len(p.jobs)))
					if err := p.run(ctx, job); err != nil {
						logger.Debug("job finished with error", "worker", worker, "error", err)
					}
				}
			}
		}(i)
	}
	logger.Info("worker pool started", "workers", p.workers, "queue", cap(p.jobs))
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job(ctx)
}

// Submit enqueues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		metrics.QueueDepth.Set(float64(len(p.jobs)))
		return nil
	default:
		metrics.JobsDropped.Inc()
		return ErrQueueFull
	}
}

// Depth is the number of jobs waiting for a worker.
func (p *Pool) Depth() int {
	return len(p.jobs)
}

// Close stops accepting jobs, lets queued jobs drain and waits for the
// workers to exit.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}

// Abort cancels running jobs and then closes the pool.
func (p *Pool) Abort() {
	p.closeMu.Lock()
	cancel := p.cancel
	p.closeMu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.Close()
}
