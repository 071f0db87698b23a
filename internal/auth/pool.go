package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"coinledger/internal/metrics"
)

var ErrPoolClosed = errors.New("hash pool closed")

type hashJob struct {
	ctx       context.Context
	operation string
	fn        func() error
	queuedAt  time.Time
	done      chan error
}

// HashPool runs slow hash computations on a fixed number of workers so that
// bursts of logins queue instead of starving the process of CPU.
type HashPool struct {
	jobs    chan hashJob
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	metrics *metrics.Collector
}

func NewHashPool(workers, queueSize int, collector *metrics.Collector) *HashPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &HashPool{
		jobs:    make(chan hashJob, queueSize),
		quit:    make(chan struct{}),
		metrics: collector,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

func (p *HashPool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case job := <-p.jobs:
			p.metrics.SetHashQueueDepth(len(p.jobs))
			if err := job.ctx.Err(); err != nil {
				job.done <- err
				continue
			}
			err := job.fn()
			p.metrics.ObserveHash(job.operation, time.Since(job.queuedAt))
			job.done <- err
		}
	}
}

// Submit queues fn and waits for its result. The wait ends early when ctx is
// done; the job is then discarded if it has not started yet.
func (p *HashPool) Submit(ctx context.Context, operation string, fn func() error) error {
	job := hashJob{
		ctx:       ctx,
		operation: operation,
		fn:        fn,
		queuedAt:  time.Now(),
		done:      make(chan error, 1),
	}
	select {
	case <-p.quit:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.jobs <- job:
		p.metrics.SetHashQueueDepth(len(p.jobs))
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

// Close stops the workers after their current job. Queued jobs are abandoned.
func (p *HashPool) Close() {
	p.once.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
