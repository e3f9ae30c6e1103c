// Package bus is an in-process publish/subscribe fan-out used to notify
// local observers of accepted changes.
//
// Publishing never blocks. When a subscriber's buffer is full the oldest
// pending event is discarded so a slow reader always catches up to the
// most recent state.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// ErrClosed is returned when subscribing to a closed bus.
var ErrClosed = errors.New("bus: closed")

// Bus fans events out to every live subscription.
type Bus[T any] struct {
	buffer int

	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	closed atomic.Bool
}

// New creates a bus whose subscriptions buffer up to buffer events.
// A non-positive buffer selects DefaultBuffer.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus[T]{
		buffer: buffer,
		subs:   make(map[*Subscription[T]]struct{}),
	}
}

// Subscription receives events published after it was created.
type Subscription[T any] struct {
	bus  *Bus[T]
	ch   chan T
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped atomic.Int64
}

// Subscribe registers a new subscription. It is removed when ctx is done
// or Unsubscribe is called, after which its channel is closed.
func (b *Bus[T]) Subscribe(ctx context.Context) (*Subscription[T], error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &Subscription[T]{
		bus:  b,
		ch:   make(chan T, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish delivers events to every subscription without blocking.
func (b *Bus[T]) Publish(events ...T) {
	if b.closed.Load() || len(events) == 0 {
		return
	}

	b.mu.RLock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		for _, evt := range events {
			sub.send(evt)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Further publishes are ignored.
func (b *Bus[T]) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription[T]]struct{})
	b.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

// C returns the receive channel. It is closed when the subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Dropped returns how many events were discarded because the reader
// fell behind.
func (s *Subscription[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Unsubscribe removes the subscription and closes its channel. It is safe
// to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	s.close()
}

func (s *Subscription[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.ch)
}

func (s *Subscription[T]) send(evt T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		// Full: discard the oldest pending event and retry.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
