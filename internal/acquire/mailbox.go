// Package acquire runs spectrometer acquisition in the background and hands
// the newest trace to whoever wants it.
package acquire

import (
	"context"
	"sync"
)

// Mailbox holds the most recent value published into it. Older values are
// overwritten, never queued.
type Mailbox[T any] struct {
	mu     sync.Mutex
	val    T
	seq    uint64
	notify chan struct{}
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{})}
}

// Publish replaces the held value and wakes any waiters. It returns the
// sequence number assigned to v, starting at 1.
func (m *Mailbox[T]) Publish(v T) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.val = v
	m.seq++
	close(m.notify)
	m.notify = make(chan struct{})
	return m.seq
}

// Latest returns the held value and its sequence number. A zero sequence
// means nothing has been published.
func (m *Mailbox[T]) Latest() (T, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.val, m.seq
}

// Updates returns a channel closed by the next Publish.
func (m *Mailbox[T]) Updates() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notify
}

// Next blocks until a value newer than after is available.
func (m *Mailbox[T]) Next(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		m.mu.Lock()
		v, seq, ch := m.val, m.seq, m.notify
		m.mu.Unlock()

		if seq > after {
			return v, seq, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			var zero T
			return zero, seq, ctx.Err()
		}
	}
}
