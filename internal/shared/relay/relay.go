// Package relay provides in-process value streams with explicit
// subscribers. A Behavior remembers its last value and replays it to new
// subscribers; a Publish stream only delivers values accepted after
// subscription. Both can coalesce consecutive equal values.
//
// Every subscription has its own unbounded queue, so a slow subscriber
// never blocks Accept and never loses a value.
package relay

import "sync"

// Subscription delivers the values of one stream in order
type Subscription[T any] struct {
	ch     chan T
	mu     sync.Mutex
	queue  []T
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
	detach func()
}

func newSubscription[T any](detach func()) *Subscription[T] {
	s := &Subscription[T]{
		ch:     make(chan T),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		detach: detach,
	}
	go s.pump()
	return s
}

// C returns the channel values are delivered on. It is closed after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscription. Undelivered values are discarded.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.closed)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- v:
		case <-s.closed:
			return
		}
	}
}

type hub[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	equal  func(a, b T) bool
	last   T
	hasAny bool
}

func (h *hub[T]) subscribe(replay bool) *Subscription[T] {
	var sub *Subscription[T]
	sub = newSubscription[T](func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	})

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*Subscription[T]]struct{})
	}
	h.subs[sub] = struct{}{}
	if replay && h.hasAny {
		sub.push(h.last)
	}
	h.mu.Unlock()
	return sub
}

// accept reports whether v was delivered (false when coalesced)
func (h *hub[T]) accept(v T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.equal != nil && h.hasAny && h.equal(h.last, v) {
		return false
	}
	h.last = v
	h.hasAny = true
	for sub := range h.subs {
		sub.push(v)
	}
	return true
}

// Behavior is a stream with a current value
type Behavior[T any] struct {
	h hub[T]
}

// NewBehavior creates a Behavior holding initial. If equal is non-nil,
// values equal to the current one are dropped.
func NewBehavior[T any](initial T, equal func(a, b T) bool) *Behavior[T] {
	b := &Behavior[T]{}
	b.h.equal = equal
	b.h.last = initial
	b.h.hasAny = true
	return b
}

// Accept sets the current value and delivers it. Returns false if the
// value was coalesced with the current one.
func (b *Behavior[T]) Accept(v T) bool {
	return b.h.accept(v)
}

// Value returns the current value
func (b *Behavior[T]) Value() T {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()
	return b.h.last
}

// Subscribe returns a subscription that first receives the current value
func (b *Behavior[T]) Subscribe() *Subscription[T] {
	return b.h.subscribe(true)
}

// Publish is a stream without a current value
type Publish[T any] struct {
	h hub[T]
}

// NewPublish creates a Publish stream. If equal is non-nil, a value equal
// to the previously accepted one is dropped.
func NewPublish[T any](equal func(a, b T) bool) *Publish[T] {
	p := &Publish[T]{}
	p.h.equal = equal
	return p
}

// Accept delivers v to current subscribers
func (p *Publish[T]) Accept(v T) bool {
	return p.h.accept(v)
}

// Subscribe returns a subscription receiving values accepted from now on
func (p *Publish[T]) Subscribe() *Subscription[T] {
	return p.h.subscribe(false)
}
