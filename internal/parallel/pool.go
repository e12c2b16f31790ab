// Package parallel provides the worker pool used by the chunked scan
// stages of the surface cache update.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines for running independent chunks of
// a scene scan.
//
// Work items are distributed over a shared queue. The scan stages
// submit one closure per chunk and wait for all of them; chunks write
// only to their own output slots, so no synchronization beyond the
// completion wait is needed.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// tasks is the shared work queue.
	tasks chan func()

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to finish.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool
}

// NewWorkerPool creates a worker pool with the specified number of
// workers. If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	queueSize := workers * 4
	if queueSize < 8 {
		queueSize = 8
	}

	p := &WorkerPool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// worker is the main loop for each worker goroutine.
func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			// Drain remaining work before exiting.
			for {
				select {
				case task := <-p.tasks:
					if task != nil {
						task()
					}
				default:
					return
				}
			}
		case task := <-p.tasks:
			if task != nil {
				task()
			}
		}
	}
}

// ExecuteAll distributes work across workers and waits for all items to
// complete. If the pool is closed, the items run inline on the calling
// goroutine so callers never lose work.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	if !p.running.Load() {
		for _, fn := range work {
			fn()
		}
		return
	}

	var completion sync.WaitGroup
	completion.Add(len(work))

	for _, fn := range work {
		task := fn
		wrapped := func() {
			defer completion.Done()
			task()
		}
		select {
		case p.tasks <- wrapped:
		case <-p.done:
			// Pool is closing; run inline.
			task()
			completion.Done()
		}
	}

	completion.Wait()
}

// Close gracefully shuts down the pool: it stops accepting new work,
// finishes queued work, and stops all workers.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Range is a half-open index range [Start, End).
type Range struct {
	Start int32
	End   int32
}

// Chunks splits [0, n) into fixed-size ranges of chunkSize elements,
// in ascending order. The last range may be shorter. Returns nil for
// n <= 0. chunkSize <= 0 yields a single range covering everything.
func Chunks(n, chunkSize int32) []Range {
	if n <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		return []Range{{Start: 0, End: n}}
	}
	out := make([]Range, 0, (n+chunkSize-1)/chunkSize)
	for start := int32(0); start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		out = append(out, Range{Start: start, End: end})
	}
	return out
}
