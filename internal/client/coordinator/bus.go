// Package coordinator carries the process-local "service starting" signal
// between client instances so that every live instance rebinds to a
// service one of them just launched.
package coordinator

import (
	"sync"

	"tunnelsync/internal/shared/pool"
)

// Bus fans the starting signal out to every subscriber. Delivery is
// asynchronous and carries no payload.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func()
	pool   *pool.WorkerPool
}

// NewBus creates a Bus delivering on its own worker pool
func NewBus() *Bus {
	return &Bus{
		subs: make(map[uint64]func()),
		pool: pool.NewWorkerPool(2, 64),
	}
}

// Subscribe registers fn and returns a func that removes it
func (b *Bus) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// NotifyStarting tells every subscriber a service start was requested
func (b *Bus) NotifyStarting() {
	b.mu.RLock()
	targets := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		targets = append(targets, fn)
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		if !b.pool.Submit(fn) {
			go fn()
		}
	}
}

// Close stops the delivery pool
func (b *Bus) Close() {
	b.pool.Close()
}
