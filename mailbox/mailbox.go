// Package mailbox provides an unbounded, multi-producer single-consumer FIFO
// queue. Producers never block; the consumer waits for the next item with a
// context.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/eapache/queue"
)

// ErrClosed is returned by Push once the mailbox has been closed, and by Pop
// once a closed mailbox has been drained.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO queue safe for use by many producers and a
// single consumer. Items are stored in a growable ring buffer so Push is
// amortized O(1) and never blocks on the consumer.
//
// A Mailbox must be created with New.
type Mailbox[T any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	notify chan struct{}
	closed bool
}

// New returns an empty, open Mailbox.
//
// Returns:
//   - A pointer to a new Mailbox[T]
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		items:  queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Push appends v to the tail of the mailbox and wakes the consumer.
//
// Parameters:
//   - v: The item to enqueue
//
// Returns:
//   - ErrClosed if the mailbox has been closed, nil otherwise
func (m *Mailbox[T]) Push(v T) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	m.items.Add(v)
	m.mu.Unlock()

	m.wake()
	return nil
}

// Pop removes and returns the item at the head of the mailbox, waiting until
// one is available. After Close, the items already queued are still returned
// in order before ErrClosed is reported.
//
// Parameters:
//   - ctx: Context that aborts the wait
//
// Returns:
//   - The head item
//   - ErrClosed once the mailbox is closed and empty, or ctx.Err() if the
//     context ends first
func (m *Mailbox[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if m.items.Length() > 0 {
			v := m.items.Remove().(T)
			m.mu.Unlock()
			return v, nil
		}

		closed := m.closed
		m.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-m.notify:
		}
	}
}

// Close stops the mailbox from accepting new items. Items already queued
// remain available to Pop. It is safe to call multiple times.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wake()
}

// Abort closes the mailbox and discards every queued item.
func (m *Mailbox[T]) Abort() {
	m.mu.Lock()
	m.closed = true
	m.items = queue.New()
	m.mu.Unlock()

	m.wake()
}

// Closed reports whether Close or Abort has been called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Len returns the number of queued items.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items.Length()
}

// wake signals the consumer without blocking; one pending signal is enough
// because the consumer re-checks the queue after every wake-up.
func (m *Mailbox[T]) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
