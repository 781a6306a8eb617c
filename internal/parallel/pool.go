// Package parallel runs page jobs on a small fixed set of goroutines.
package parallel

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned when work is submitted to a closed pool.
var ErrClosed = errors.New("parallel: pool closed")

// WorkerPool is a fixed pool of goroutines with per-worker queues.
//
// Each worker pulls from its own queue first and steals from the others
// when it runs dry, so one slow decode does not hold up queued work behind
// it. The worker count bounds how many jobs run at once.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan func()

	done chan struct{}
	wg   sync.WaitGroup

	running atomic.Bool
	active  atomic.Int64
	ran     atomic.Uint64
}

// NewWorkerPool starts a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	own := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(own)
			return
		case work := <-own:
			p.run(work)
		default:
			if stolen := p.steal(id); stolen != nil {
				p.run(stolen)
				continue
			}
			select {
			case <-p.done:
				p.drainQueue(own)
				return
			case work := <-own:
				p.run(work)
			}
		}
	}
}

func (p *WorkerPool) run(work func()) {
	if work == nil {
		return
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	work()
	p.ran.Add(1)
}

// drainQueue runs whatever is still queued so callers waiting on a
// job's completion are not left hanging at shutdown.
func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			p.run(work)
		default:
			return
		}
	}
}

func (p *WorkerPool) steal(self int) func() {
	for i := range p.workers {
		if i == self {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// shortest returns the worker with the fewest queued jobs.
func (p *WorkerPool) shortest() int {
	minLen, minIdx := len(p.workQueues[0]), 0
	for i := 1; i < p.workers; i++ {
		if l := len(p.workQueues[i]); l < minLen {
			minLen, minIdx = l, i
		}
	}
	return minIdx
}

// Submit queues fn on the least loaded worker. It blocks while every queue
// is full and gives up when ctx is done or the pool closes.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	if fn == nil {
		return nil
	}
	if !p.running.Load() {
		return ErrClosed
	}

	select {
	case p.workQueues[p.shortest()] <- fn:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues fn without blocking. It reports false when the pool is
// closed or the chosen queue is full.
func (p *WorkerPool) TrySubmit(fn func()) bool {
	if fn == nil || !p.running.Load() {
		return false
	}
	select {
	case p.workQueues[p.shortest()] <- fn:
		return true
	default:
		return false
	}
}

// Close stops accepting work, runs what is already queued and waits for
// the workers to exit. It is safe to call more than once.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning reports whether the pool still accepts work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// QueuedWork approximates the number of jobs waiting in the queues.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}

// Active returns the number of jobs running right now.
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// Completed returns the number of jobs that have finished.
func (p *WorkerPool) Completed() uint64 {
	return p.ran.Load()
}
