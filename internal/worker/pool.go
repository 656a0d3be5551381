// Package worker runs fire-and-forget tasks on a bounded pool so that
// background work outlives the response without becoming untracked.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/abund-gatekeeper/internal/metrics"
)

// ErrClosed is returned by Shutdown when called twice.
var ErrClosed = errors.New("worker pool closed")

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool is a fixed set of workers draining a bounded queue. A full queue
// drops new tasks rather than blocking the caller.
type Pool struct {
	tasks   chan task
	timeout time.Duration
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines reading from a queue of queueSize.
// Each task runs with its own timeout.
func NewPool(workers, queueSize int, timeout time.Duration, m *metrics.Metrics) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan task, queueSize),
		timeout: timeout,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.run(t)
			}
		}()
	}
	return p
}

// Submit enqueues fn under name. It never blocks; it returns false when the
// queue is full or the pool is shut down.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		log.Warn().Str("task", name).Msg("worker pool closed, dropping task")
		p.metrics.BackgroundTask(name, "dropped")
		return false
	}

	select {
	case p.tasks <- task{name: name, fn: fn}:
		return true
	default:
		log.Warn().Str("task", name).Msg("worker queue full, dropping task")
		p.metrics.BackgroundTask(name, "dropped")
		return false
	}
}

func (p *Pool) run(t task) {
	ctx := p.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.name).Interface("panic", r).Msg("background task panicked")
			p.metrics.BackgroundTask(t.name, "panic")
		}
	}()

	if err := t.fn(ctx); err != nil {
		log.Error().Err(err).Str("task", t.name).Msg("background task failed")
		p.metrics.BackgroundTask(t.name, "error")
		return
	}
	p.metrics.BackgroundTask(t.name, "ok")
}

// Shutdown stops accepting tasks and waits for queued ones to finish. If
// ctx expires first, in-flight tasks are cancelled and ctx.Err is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}
