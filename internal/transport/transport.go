// Package transport abstracts the physical link a bootloader session talks
// over: a framed byte stream (serial) or a fragmented frame bus (CAN).
// Both implementations exchange complete, checksummed protocol frames;
// callers never see partial reads or bus-level fragmentation.
package transport

import (
	"context"
	"fmt"
)

// Transport sends and receives complete bootloader protocol frames.
// Implementations own whatever framing or fragmentation their physical
// link requires and present a frame-in, frame-out interface.
type Transport interface {
	// Send writes a single complete frame.
	Send(ctx context.Context, frame []byte) error

	// Receive reads a single complete frame, blocking until one arrives,
	// ctx is canceled, or the transport's own timeout elapses.
	Receive(ctx context.Context) ([]byte, error)

	// Close releases the underlying link.
	Close() error
}

// Error wraps a failure originating in a transport's underlying link
// (a serial port write/read error, a CAN bus error, and so on).
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout indicates a Receive call gave up waiting for a complete frame.
type Timeout struct {
	Op string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("transport: %s: timed out", e.Op)
}
