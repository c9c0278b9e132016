// Package pool schedules per-agent units of work: a bounded worker pool for
// transport calls and a keyed mutex that serializes work touching the same
// agent.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool runs submitted jobs on a fixed set of workers with a bounded queue.
// Submission never blocks; a full queue is an error the caller handles.
// Each job runs under a context bounded by the pool's job timeout.
type Pool struct {
	maxWorkers int
	jobTimeout time.Duration
	jobQueue   chan *job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool starts maxWorkers workers over a queue of queueSize slots. Jobs
// run with jobTimeout on their context; zero disables the bound.
func NewPool(maxWorkers, queueSize int, jobTimeout time.Duration) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = maxWorkers * 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		maxWorkers: maxWorkers,
		jobTimeout: jobTimeout,
		jobQueue:   make(chan *job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case j, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.execute(j)
		case <-p.ctx.Done():
			// drain whatever is already queued before exiting
			for {
				select {
				case j, ok := <-p.jobQueue:
					if !ok {
						return
					}
					p.execute(j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) execute(j *job) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job", j.name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in pool worker")
		}
	}()

	// queued jobs still run during shutdown drain, so the base context is
	// not the pool's own
	ctx := context.Background()
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	if err := j.fn(ctx); err != nil {
		log.Warn().Err(err).Str("job", j.name).Msg("Pool job failed")
	}
}

// Submit queues a named job. It fails fast when the queue is full or the
// pool is shutting down.
func (p *Pool) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("pool is shutting down")
	case p.jobQueue <- &job{name: name, fn: fn}:
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// QueueSize returns the number of jobs waiting to run.
func (p *Pool) QueueSize() int { return len(p.jobQueue) }

// MaxWorkers returns the worker count.
func (p *Pool) MaxWorkers() int { return p.maxWorkers }

// Shutdown stops accepting jobs, drains the queue and waits for workers up
// to timeout.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(p.jobQueue)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
