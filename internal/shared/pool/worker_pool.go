package pool

import (
	"sync"
)

// WorkerPool is a fixed-size goroutine pool. The service handles accepted
// connections on it and the coordinator fans notifications out through it.
type WorkerPool struct {
	workers  int
	jobQueue chan func()
	wg       sync.WaitGroup
	once     sync.Once
	closed   bool
	mu       sync.RWMutex
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workers int, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	return start(workers, make(chan func(), queueSize))
}

// NewHandoffPool creates a pool without a queue: a job runs on an idle
// worker or, when all workers are busy, on its own goroutine. Suited to
// long-lived jobs such as connection handlers.
func NewHandoffPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 8
	}
	return start(workers, make(chan func()))
}

func start(workers int, queue chan func()) *WorkerPool {
	pool := &WorkerPool{
		workers:  workers,
		jobQueue: queue,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}

	return pool
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for job := range p.jobQueue {
		if job != nil {
			job()
		}
	}
}

// Submit submits a job to the worker pool. A job that does not fit the
// queue runs on its own goroutine. Returns false, without running the
// job, only if the pool is closed or job is nil.
func (p *WorkerPool) Submit(job func()) bool {
	if job == nil {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.jobQueue <- job:
		return true
	default:
		go job()
		return true
	}
}

// Close stops accepting jobs and waits for queued jobs to finish
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobQueue)
		p.mu.Unlock()

		p.wg.Wait()
	})
}

// IsClosed returns true if the pool is closed
func (p *WorkerPool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}
