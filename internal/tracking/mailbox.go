package tracking

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Next after Close.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a single-slot buffer: Publish overwrites any value the consumer
// has not taken yet, so a slow consumer only ever sees the newest value.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	closed bool
	drops  uint64
	notify chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Publish stores v without blocking.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.full {
		m.drops++
	}
	m.value = v
	m.full = true

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a value is available, ctx is done or the mailbox is
// closed.
func (m *Mailbox[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		m.mu.Lock()
		if m.full {
			v := m.value
			m.value = zero
			m.full = false
			m.mu.Unlock()
			return v, nil
		}
		if m.closed {
			m.mu.Unlock()
			return zero, ErrMailboxClosed
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Drops counts values overwritten before they were consumed.
func (m *Mailbox[T]) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// Close wakes any blocked consumer. Later publishes are ignored.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}
