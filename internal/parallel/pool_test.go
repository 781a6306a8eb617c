package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Creation
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	if pool.Workers() != 2 {
		t.Errorf("Workers() = %d, want 2", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestWorkerPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -5} {
		pool := NewWorkerPool(n)
		if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
			t.Errorf("NewWorkerPool(%d).Workers() = %d, want %d", n, got, want)
		}
		pool.Close()
	}
}

// =============================================================================
// Submit
// =============================================================================

func TestWorkerPool_Submit(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	var counter atomic.Int64
	for range 50 {
		wg.Add(1)
		err := pool.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if counter.Load() != 50 {
		t.Errorf("counter = %d, want 50", counter.Load())
	}
}

func TestWorkerPool_SubmitNil(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Close()

	if err := pool.Submit(context.Background(), nil); err != nil {
		t.Errorf("Submit(nil) error = %v, want nil", err)
	}
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()

	err := pool.Submit(context.Background(), func() {})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
	if pool.TrySubmit(func() {}) {
		t.Error("TrySubmit() after Close = true, want false")
	}
}

func TestWorkerPool_SubmitContextCanceled(t *testing.T) {
	pool := NewWorkerPool(1)
	release := make(chan struct{})
	defer func() {
		close(release)
		pool.Close()
	}()

	// Occupy the worker, then fill its queue.
	started := make(chan struct{})
	if err := pool.Submit(context.Background(), func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started
	for pool.TrySubmit(func() {}) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func() {})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit() on full queue error = %v, want DeadlineExceeded", err)
	}
}

func TestWorkerPool_ConcurrencyBound(t *testing.T) {
	const workers = 2
	pool := NewWorkerPool(workers)
	defer pool.Close()

	var running, peak atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		_ = pool.Submit(context.Background(), func() {
			defer wg.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}
	wg.Wait()

	if peak.Load() > workers {
		t.Errorf("peak concurrency = %d, want <= %d", peak.Load(), workers)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestWorkerPool_CloseDrainsQueued(t *testing.T) {
	pool := NewWorkerPool(1)

	var counter atomic.Int64
	for range 5 {
		_ = pool.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			counter.Add(1)
		})
	}
	pool.Close()

	if got := pool.Completed(); got != 5 {
		t.Errorf("Completed() = %d, want 5", got)
	}
	if counter.Load() != 5 {
		t.Errorf("counter after Close = %d, want 5", counter.Load())
	}
	if pool.IsRunning() {
		t.Error("IsRunning() after Close = true")
	}
}

func TestWorkerPool_CloseTwice(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close()
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var wg sync.WaitGroup
	ctx := context.Background()
	for b.Loop() {
		wg.Add(1)
		_ = pool.Submit(ctx, wg.Done)
	}
	wg.Wait()
}
