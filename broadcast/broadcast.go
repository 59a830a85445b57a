// Package broadcast fans values out to a dynamic set of subscribers.
package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrNotSubscribed is returned when unsubscribing an unknown or already removed id.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrClosed is returned when subscribing to a closed broadcaster.
	ErrClosed = errors.New("broadcaster closed")
)

// Broadcaster delivers every published value to every current subscriber.
// Each subscriber has a bounded queue; when a queue is full the oldest queued
// value is dropped to make room, so Publish never blocks on a slow or absent
// reader. A subscriber sees values in publish order, from the moment it
// subscribed onward.
type Broadcaster[T any] struct {
	// mu guards the registry and serializes publishers, which keeps per-subscriber
	// order equal to publish order.
	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscription[T]
	bufferSize  int
	closed      bool
}

// New returns a broadcaster whose subscribers each queue up to bufferSize values.
func New[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[uuid.UUID]*Subscription[T]),
		bufferSize:  bufferSize,
	}
}

// Subscription is one subscriber's end of a Broadcaster.
type Subscription[T any] struct {
	id      uuid.UUID
	updates chan T
	owner   *Broadcaster[T]
	dropped atomic.Uint64
}

// ID identifies the subscription.
func (s *Subscription[T]) ID() uuid.UUID {
	return s.id
}

// Updates is closed when the subscription is removed or the broadcaster closes.
func (s *Subscription[T]) Updates() <-chan T {
	return s.updates
}

// Dropped counts values discarded because this subscriber fell behind.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	_ = s.owner.Unsubscribe(s.id)
}

// offer enqueues val, evicting the oldest queued values until it fits.
// Callers must hold the owner's mutex.
func (s *Subscription[T]) offer(val T) {
	for {
		select {
		case s.updates <- val:
			return
		default:
		}

		select {
		case <-s.updates:
			s.dropped.Add(1)
		default:
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Broadcaster[T]) Subscribe() (*Subscription[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	sub := &Subscription[T]{
		id:      uuid.New(),
		updates: make(chan T, b.bufferSize),
		owner:   b,
	}
	b.subscribers[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its Updates channel. Values still
// queued remain readable until the channel drains.
func (b *Broadcaster[T]) Unsubscribe(id uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subscribers[id]
	if !ok {
		return ErrNotSubscribed
	}
	delete(b.subscribers, id)
	close(sub.updates)
	return nil
}

// Publish offers val to every subscriber and returns how many there were.
// With no subscribers it is a no-op.
func (b *Broadcaster[T]) Publish(val T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		sub.offer(val)
	}
	return len(b.subscribers)
}

// Len returns the current number of subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close removes every subscriber, closing their channels, and rejects future subscriptions.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.updates)
	}
}
