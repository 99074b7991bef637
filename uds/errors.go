package uds

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates that a nil Config was passed to NewEngine.
	ErrConfigNil = errors.New("uds: config is nil")

	// ErrTransportNil indicates that a nil transport was passed to NewEngine.
	ErrTransportNil = errors.New("uds: transport is nil")

	// ErrInvalidTransition indicates an operation called out of protocol order.
	ErrInvalidTransition = errors.New("uds: invalid state transition")

	// ErrInvalidKey indicates a key that does not fit a single frame.
	ErrInvalidKey = errors.New("uds: invalid key length")
)

var (
	// ErrTransport wraps any send or receive failure of the underlying bus.
	// The run is aborted and the engine is left Resolved.
	ErrTransport = errors.New("uds: transport error")

	// ErrSeedTimeout indicates that no seed response arrived within the seed timeout.
	ErrSeedTimeout = errors.New("uds: seed response timeout")

	// ErrDenied matches every NegativeResponseError.
	ErrDenied = errors.New("uds: security access denied")

	// ErrNoFinalResponse indicates that the key was sent but the ECU never
	// classified it. The ECU lock state is unknown.
	ErrNoFinalResponse = errors.New("uds: no final response")
)

// NegativeResponseError reports a well-formed negative response from the ECU.
type NegativeResponseError struct {
	NRC NRC
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDenied.Error(), e.NRC)
}

// Is reports whether target is ErrDenied.
func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrDenied //nolint:errorlint,err113
}
