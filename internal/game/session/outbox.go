// Package session tracks connected client sessions and the bounded outboxes
// through which the battle loop pushes messages to them.
package session

import (
	"errors"
	"sync"
)

// ErrOutboxFull is returned by Push when the client is not draining fast
// enough. The caller disconnects the client, which resyncs on reconnect.
var ErrOutboxFull = errors.New("session outbox full")

// ErrOutboxClosed is returned by Push after Close.
var ErrOutboxClosed = errors.New("session outbox closed")

// DefaultOutboxSize is used when a non-positive size is requested.
const DefaultOutboxSize = 64

// Outbox is a bounded, never-blocking queue of encoded messages bound for
// one connection.
type Outbox struct {
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox holding up to size messages.
//
// Postcondition: Returns an open Outbox.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{events: make(chan []byte, size)}
}

// Push enqueues data without blocking.
//
// Precondition: data must be a non-nil byte slice.
// Postcondition: data is enqueued, or ErrOutboxClosed / ErrOutboxFull is returned.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.events <- data:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Events returns the read-only events channel drained by the connection's
// writer. It is closed by Close.
func (o *Outbox) Events() <-chan []byte {
	return o.events
}

// Close marks the outbox closed and closes the events channel. Close is
// idempotent.
//
// Postcondition: The events channel is closed. Further Push calls return ErrOutboxClosed.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
