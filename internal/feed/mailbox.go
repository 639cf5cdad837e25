// Package feed hands live frames from producers to the single control
// goroutine with at most one pending frame per source.
package feed

import (
	"context"
	"sync"
	"time"
)

// Mailbox is a one-slot, latest-wins handoff. Put never blocks; a value that
// has not been taken yet is replaced and counted as dropped.
type Mailbox[T any] struct {
	mu      sync.Mutex
	slot    T
	full    bool
	dropped uint64
	ready   chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, replacing any pending value. It reports whether a pending
// value was replaced.
func (m *Mailbox[T]) Put(v T) bool {
	m.mu.Lock()
	replaced := m.full
	if replaced {
		m.dropped++
	}
	m.slot = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return replaced
}

// Take removes and returns the pending value, if any.
func (m *Mailbox[T]) Take() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.slot
	m.slot = zero
	m.full = false
	return v, true
}

// Ready is signalled after a Put. A signal may be stale; callers must Take
// and check the result.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Wait blocks until a value is available or ctx is done.
func (m *Mailbox[T]) Wait(ctx context.Context) (T, error) {
	for {
		if v, ok := m.Take(); ok {
			return v, nil
		}
		select {
		case <-m.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Pending reports whether a value is waiting.
func (m *Mailbox[T]) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.full
}

// Dropped returns how many values were replaced before being taken.
func (m *Mailbox[T]) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// Frame is an undecoded image received from a live source.
type Frame struct {
	Data     []byte
	Received time.Time
	Seq      uint64
}
