package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolConcurrencyLimit(t *testing.T) {
	pool := New(2)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()

	var current int32
	var peak int32

	work := func() {
		val := atomic.AddInt32(&current, 1)
		for {
			prev := atomic.LoadInt32(&peak)
			if val <= prev {
				break
			}
			if atomic.CompareAndSwapInt32(&peak, prev, val) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			work()
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt32(&peak); got > 2 {
		t.Fatalf("concurrency exceeded pool size: %d", got)
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	pool := New(1)
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if err := pool.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
	if err := pool.TrySubmit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestTrySubmitRejectsWhenFull(t *testing.T) {
	pool := New(1)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()

	release := make(chan struct{})
	started := make(chan struct{})
	if err := pool.Submit(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	// Fill the queue behind the blocked worker.
	filled := 0
	for i := 0; i < 64; i++ {
		if err := pool.TrySubmit(func() { <-release }); err != nil {
			if !errors.Is(err, ErrQueueFull) {
				t.Fatalf("expected ErrQueueFull, got %v", err)
			}
			break
		}
		filled++
	}
	if filled == 0 || filled >= 64 {
		t.Fatalf("queue never filled up, accepted %d tasks", filled)
	}

	close(release)
}

func TestShutdownWaitsForInflightTasks(t *testing.T) {
	pool := New(2)

	var done atomic.Int32
	for i := 0; i < 4; i++ {
		if err := pool.Submit(func() {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := done.Load(); got != 4 {
		t.Fatalf("shutdown must drain the queue, finished %d of 4", got)
	}
}

func TestShutdownHonorsContext(t *testing.T) {
	pool := New(1)

	release := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(func() {
		close(started)
		<-release
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := pool.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	close(release)
}

func TestSizeReportsWorkerCount(t *testing.T) {
	pool := New(3)
	defer func() {
		_ = pool.Shutdown(context.Background())
	}()
	if pool.Size() != 3 {
		t.Fatalf("expected size 3, got %d", pool.Size())
	}
	if New(0).Size() != 1 {
		t.Fatalf("non-positive size must fall back to 1")
	}
}
