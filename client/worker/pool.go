// Package worker provides a bounded pool for background tasks such as
// remote play-event submission.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Shutdown started.
var ErrPoolClosed = errors.New("worker pool closed")

// ErrQueueFull is returned by TrySubmit when the queue has no room.
var ErrQueueFull = errors.New("worker queue full")

// Pool executes submitted tasks on a fixed number of goroutines.
type Pool struct {
	tasks    chan func()
	wg       sync.WaitGroup
	shutdown chan struct{}
	mu       sync.Mutex
	closed   bool
	size     int
}

// New creates a pool with the given number of workers. The queue holds
// eight tasks per worker.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	p := &Pool{
		tasks:    make(chan func(), size*8),
		shutdown: make(chan struct{}),
		size:     size,
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		if task != nil {
			task()
		}
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case p.tasks <- task:
		return nil
	}
}

// TrySubmit enqueues a task only when the queue has room. Callers doing
// best-effort work use this so a slow backend never blocks them.
func (p *Pool) TrySubmit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case <-p.shutdown:
		return ErrPoolClosed
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for in-flight tasks until ctx is done.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.shutdown)
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}
