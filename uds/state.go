package uds

import "sync/atomic"

// State is the position of an Engine in the SecurityAccess exchange.
type State uint32

const (
	StateIdle State = iota
	StateSeedRequested
	StateSeedReceived
	StateKeySent
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSeedRequested:
		return "SeedRequested"
	case StateSeedReceived:
		return "SeedReceived"
	case StateKeySent:
		return "KeySent"
	case StateResolved:
		return "Resolved"
	default:
		return "Unknown"
	}
}

// atomicState allows State to be read from other goroutines while the
// owning goroutine drives the exchange.
type atomicState struct {
	state atomic.Uint32
}

func (st *atomicState) Get() State {
	return State(st.state.Load())
}

func (st *atomicState) Set(s State) {
	st.state.Store(uint32(s))
}

// transition moves from one state to the next, failing if the engine is elsewhere.
func (st *atomicState) transition(from, to State) bool {
	return st.state.CompareAndSwap(uint32(from), uint32(to))
}
