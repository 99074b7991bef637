package can

import (
	"errors"
	"time"
)

var (
	// ErrInvalidID indicates an identifier outside the 11-bit range.
	ErrInvalidID = errors.New("can: identifier exceeds 11 bits")

	// ErrPayloadTooLong indicates a payload longer than 8 bytes.
	ErrPayloadTooLong = errors.New("can: payload exceeds 8 bytes")

	// ErrClosed indicates an operation on a closed transport.
	ErrClosed = errors.New("can: transport closed")
)

// Transport sends and receives frames on one bus.
//
// Implementations are owned by a single caller at a time. The diagnostic
// engines never call Send and Receive concurrently on the same Transport.
type Transport interface {
	// Send places one frame on the bus.
	Send(f *Frame) error

	// Receive waits at most maxWait for the next frame.
	//
	// It returns (nil, nil) when no frame arrived in time. It must never
	// block noticeably longer than maxWait.
	Receive(maxWait time.Duration) (*Frame, error)

	// Close releases the underlying bus handle.
	Close() error
}
