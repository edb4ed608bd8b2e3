package core

import "errors"

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrConnectionClosed = errors.New("connection closed")
)

// Frame is a raw, already encoded outbound message.
type Frame []byte

// ConnID is the opaque id of one live connection.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	// TrySend enqueues without blocking; ErrBackpressure when the queue is full.
	TrySend(Frame) error
	Close()
}
