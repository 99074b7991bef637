package uds

import "fmt"

// OutcomeKind classifies how a SecurityAccess exchange ended.
type OutcomeKind uint8

const (
	// OutcomeUnlocked means the ECU accepted the key.
	OutcomeUnlocked OutcomeKind = iota + 1
	// OutcomeDenied means the ECU sent a negative response; see Outcome.NRC.
	OutcomeDenied
	// OutcomeTimedOut means a required response never arrived; see Outcome.Phase.
	OutcomeTimedOut
	// OutcomeNoFinalResponse means the key was sent but no classifiable reply followed.
	OutcomeNoFinalResponse
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeUnlocked:
		return "Unlocked"
	case OutcomeDenied:
		return "Denied"
	case OutcomeTimedOut:
		return "TimedOut"
	case OutcomeNoFinalResponse:
		return "NoFinalResponse"
	default:
		return "Unknown"
	}
}

// Phase names the wait an outcome was produced in.
type Phase uint8

const (
	PhaseSeed Phase = iota + 1
	PhaseResult
)

func (p Phase) String() string {
	switch p {
	case PhaseSeed:
		return "seed"
	case PhaseResult:
		return "result"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one exchange.
type Outcome struct {
	Kind OutcomeKind
	// NRC is set when Kind is OutcomeDenied.
	NRC NRC
	// Phase is set when Kind is OutcomeTimedOut.
	Phase Phase
}

// Unlocked reports whether the ECU accepted the key.
func (o Outcome) Unlocked() bool { return o.Kind == OutcomeUnlocked }

// Err converts the outcome to an error, nil when unlocked.
//
// Denied outcomes yield a *NegativeResponseError (matching ErrDenied), a seed
// timeout yields ErrSeedTimeout and a missing final response yields
// ErrNoFinalResponse.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeUnlocked:
		return nil
	case OutcomeDenied:
		return &NegativeResponseError{NRC: o.NRC}
	case OutcomeTimedOut:
		if o.Phase == PhaseSeed {
			return ErrSeedTimeout
		}
		return fmt.Errorf("uds: %s phase timeout", o.Phase)
	case OutcomeNoFinalResponse:
		return ErrNoFinalResponse
	default:
		return fmt.Errorf("uds: unknown outcome %d", o.Kind)
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeDenied:
		return fmt.Sprintf("Denied(%s)", o.NRC)
	case OutcomeTimedOut:
		return fmt.Sprintf("TimedOut(%s)", o.Phase)
	default:
		return o.Kind.String()
	}
}
