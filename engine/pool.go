package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks worker pool operational metrics.
type PoolMetrics struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// errSlotAbandoned is returned by Acquire when the caller gave up waiting.
var errSlotAbandoned = errors.New("gave up waiting for a worker slot")

// WorkerPool bounds how many runs drive a browser at once. Every worker is a
// tracked goroutine; it must hold a slot from Acquire while it works.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Go starts fn on a tracked goroutine without waiting for a slot. A panic in
// fn is recovered, counted and handed to onPanic.
func (p *WorkerPool) Go(fn func() error, onPanic func(r any)) error {
	// wg.Add(1) MUST be inside the lock to prevent race with Shutdown's wg.Wait().
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()

		if err := fn(); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

// Acquire blocks until a slot is free, abandon is closed or the pool shuts down.
func (p *WorkerPool) Acquire(abandon <-chan struct{}) error {
	atomic.AddInt64(&p.metrics.Waiting, 1)
	defer atomic.AddInt64(&p.metrics.Waiting, -1)

	select {
	case p.sem <- struct{}{}:
		atomic.AddInt64(&p.metrics.Active, 1)
		return nil
	case <-abandon:
		return errSlotAbandoned
	case <-p.done:
		return ErrPoolShutdown
	}
}

// Release returns a slot taken by Acquire.
func (p *WorkerPool) Release() {
	atomic.AddInt64(&p.metrics.Active, -1)
	<-p.sem
}

// Done is closed when the pool starts shutting down.
func (p *WorkerPool) Done() <-chan struct{} {
	return p.done
}

// Shutdown stops new submissions, signals workers through Done and waits for
// every tracked goroutine or ctx, whichever comes first.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Waiting:   atomic.LoadInt64(&p.metrics.Waiting),
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
