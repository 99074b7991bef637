package uds

import "sync/atomic"

// EngineMetrics contains atomic counters for an Engine.
// Metrics can be used as the value of a prometheus CounterFunc.
type EngineMetrics struct {
	// FrameSendCount indicates the number of frames sent.
	FrameSendCount atomic.Uint64
	// FrameRecvCount indicates the number of frames received while polling.
	FrameRecvCount atomic.Uint64
	// FrameIgnoredCount indicates received frames that matched nothing.
	FrameIgnoredCount atomic.Uint64

	// RunCount indicates the number of exchanges started by Run.
	RunCount atomic.Uint64
	// UnlockCount indicates the number of Unlocked outcomes.
	UnlockCount atomic.Uint64
	// DeniedCount indicates the number of Denied outcomes.
	DeniedCount atomic.Uint64
	// SeedTimeoutCount indicates the number of seed timeouts.
	SeedTimeoutCount atomic.Uint64
	// NoFinalResponseCount indicates the number of NoFinalResponse outcomes.
	NoFinalResponseCount atomic.Uint64
	// TransportErrCount indicates the number of aborted exchanges due to bus failures.
	TransportErrCount atomic.Uint64
}

func (m *EngineMetrics) incFrameSendCount()    { m.FrameSendCount.Add(1) }
func (m *EngineMetrics) incFrameRecvCount()    { m.FrameRecvCount.Add(1) }
func (m *EngineMetrics) incFrameIgnoredCount() { m.FrameIgnoredCount.Add(1) }
func (m *EngineMetrics) incRunCount()          { m.RunCount.Add(1) }
func (m *EngineMetrics) incTransportErrCount() { m.TransportErrCount.Add(1) }

func (m *EngineMetrics) recordOutcome(o Outcome) {
	switch o.Kind {
	case OutcomeUnlocked:
		m.UnlockCount.Add(1)
	case OutcomeDenied:
		m.DeniedCount.Add(1)
	case OutcomeTimedOut:
		m.SeedTimeoutCount.Add(1)
	case OutcomeNoFinalResponse:
		m.NoFinalResponseCount.Add(1)
	}
}
