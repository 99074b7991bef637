package uds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

// maxFlushFrames bounds the stale frame flush on a busy bus.
const maxFlushFrames = 256

// busLocks serializes Run per channel. Each value is a one-slot semaphore.
var busLocks = xsync.NewMapOf[string, chan struct{}]()

func acquireBus(ctx context.Context, channel string) (func(), error) {
	sem, _ := busLocks.LoadOrCompute(channel, func() chan struct{} {
		return make(chan struct{}, 1)
	})

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Engine drives one SecurityAccess exchange at a time over a can.Transport.
//
// The step methods (RequestSeed, AwaitSeed, SendKey, AwaitResult) must be
// called in protocol order from a single goroutine; Run calls them in
// sequence. State may be read concurrently.
//
// Transport failures and context cancellation abort the exchange: the engine
// is left Resolved without an outcome and must be Reset before reuse.
type Engine struct {
	tr     can.Transport
	cfg    *Config
	logger logger.Logger

	state      atomicState
	outcome    Outcome
	hasOutcome bool

	metrics EngineMetrics
}

// NewEngine creates an Engine that owns tr for the duration of each exchange.
func NewEngine(tr can.Transport, cfg *Config) (*Engine, error) {
	if tr == nil {
		return nil, ErrTransportNil
	}
	if cfg == nil {
		return nil, ErrConfigNil
	}

	e := &Engine{
		tr:     tr,
		cfg:    cfg,
		logger: cfg.logger.With("channel", cfg.channel),
	}
	e.state.Set(StateIdle)

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

// State returns the current protocol state.
func (e *Engine) State() State { return e.state.Get() }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *EngineMetrics { return &e.metrics }

// Outcome returns the outcome of the last exchange. ok is false until the
// engine resolves, or when the exchange was aborted.
func (e *Engine) Outcome() (Outcome, bool) {
	if e.State() != StateResolved {
		return Outcome{}, false
	}

	return e.outcome, e.hasOutcome
}

// Reset returns a Resolved engine to Idle so a fresh exchange can start.
func (e *Engine) Reset() error {
	if e.State() == StateIdle {
		return nil
	}
	if !e.state.transition(StateResolved, StateIdle) {
		return fmt.Errorf("%w: reset from %s", ErrInvalidTransition, e.State())
	}
	e.outcome = Outcome{}
	e.hasOutcome = false

	return nil
}

// Run performs a complete exchange with the configured timeouts.
//
// Protocol outcomes, including a seed timeout, are returned as an Outcome with
// a nil error. The error is non-nil only when the exchange could not be
// carried out: a transport failure (ErrTransport), an engine that is midway
// through a manual exchange (ErrInvalidTransition), or ctx ending.
//
// Run holds the channel lock for the whole exchange, so concurrent runs
// against the same channel execute one after another.
func (e *Engine) Run(ctx context.Context) (Outcome, error) {
	release, err := acquireBus(ctx, e.cfg.channel)
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	if e.State() == StateResolved {
		_ = e.Reset()
	}
	if st := e.State(); st != StateIdle {
		return Outcome{}, fmt.Errorf("%w: run in %s", ErrInvalidTransition, st)
	}

	e.metrics.incRunCount()
	e.logger.Info("uds: security access started",
		"level", e.cfg.securityLevel,
		"requestID", fmt.Sprintf("0x%03X", e.cfg.requestID),
		"responseID", fmt.Sprintf("0x%03X", e.cfg.responseID),
		"keyVariant", e.cfg.keyVariant,
	)

	if e.cfg.flushPending {
		if err := e.flush(); err != nil {
			return Outcome{}, err
		}
	}

	if err := e.RequestSeed(ctx); err != nil {
		return Outcome{}, err
	}

	seed, err := e.AwaitSeed(ctx, e.cfg.seedTimeout)
	if err != nil {
		if errors.Is(err, ErrSeedTimeout) {
			return e.outcome, nil
		}
		return Outcome{}, err
	}

	if err := e.SendKey(ctx, e.ComputeKey(seed)); err != nil {
		return Outcome{}, err
	}

	return e.AwaitResult(ctx, e.cfg.resultTimeout)
}

// RequestSeed sends the requestSeed frame. Idle -> SeedRequested.
func (e *Engine) RequestSeed(ctx context.Context) error {
	if st := e.State(); st != StateIdle {
		return fmt.Errorf("%w: request seed in %s", ErrInvalidTransition, st)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := e.send(e.cfg.SeedSubFunction(), nil); err != nil {
		return fmt.Errorf("%w: send seed request: %w", ErrTransport, err)
	}
	e.state.transition(StateIdle, StateSeedRequested)

	return nil
}

// AwaitSeed polls for the seed response. SeedRequested -> SeedReceived.
//
// A frame matches when it carries the response ID and starts with the
// positive response SID, the echoed requestSeed sub-function and a seed byte.
// Everything else is ignored. If timeout elapses first the engine resolves to
// TimedOut(seed) and an error wrapping ErrSeedTimeout is returned.
// A non-positive timeout uses the configured seed timeout.
func (e *Engine) AwaitSeed(ctx context.Context, timeout time.Duration) (byte, error) {
	if st := e.State(); st != StateSeedRequested {
		return 0, fmt.Errorf("%w: await seed in %s", ErrInvalidTransition, st)
	}
	if timeout <= 0 {
		timeout = e.cfg.seedTimeout
	}

	posSID := SIDSecurityAccess + positiveResponseOffset
	subFn := e.cfg.SeedSubFunction()

	var seed byte
	matched, err := e.poll(ctx, timeout, PhaseSeed, func(p []byte) bool {
		if len(p) < 3 || p[0] != posSID || p[1] != subFn {
			return false
		}
		seed = p[2]

		return true
	})
	if err != nil {
		return 0, err
	}

	if !matched {
		e.resolve(Outcome{Kind: OutcomeTimedOut, Phase: PhaseSeed})
		e.logger.Warn("uds: seed response not received", "timeout", timeout)

		return 0, fmt.Errorf("%w after %v", ErrSeedTimeout, timeout)
	}

	e.state.transition(StateSeedRequested, StateSeedReceived)
	e.logger.Debug("uds: seed received", "seed", fmt.Sprintf("0x%02X", seed))

	return seed, nil
}

// ComputeKey derives the key for seed with the configured KeyAlgorithm.
// It has no side effects and does not change state.
func (e *Engine) ComputeKey(seed byte) []byte {
	return e.cfg.keyAlgorithm.DeriveKey(seed)
}

// SendKey sends the sendKey frame carrying key. SeedReceived -> KeySent.
// The key must be 1 to 6 bytes long to fit a single frame.
func (e *Engine) SendKey(ctx context.Context, key []byte) error {
	if st := e.State(); st != StateSeedReceived {
		return fmt.Errorf("%w: send key in %s", ErrInvalidTransition, st)
	}
	if len(key) == 0 || len(key) > maxKeyLen {
		return fmt.Errorf("%w: %d bytes, want 1-%d", ErrInvalidKey, len(key), maxKeyLen)
	}
	if err := ctx.Err(); err != nil {
		e.abort()
		return err
	}

	if err := e.send(e.cfg.KeySubFunction(), key); err != nil {
		return fmt.Errorf("%w: send key: %w", ErrTransport, err)
	}
	e.state.transition(StateSeedReceived, StateKeySent)
	e.logger.Debug("uds: key sent", "key", fmt.Sprintf("% X", key))

	return nil
}

// AwaitResult polls for the ECU verdict. KeySent -> Resolved.
//
// The first response-ID frame that is either a positive sendKey response
// (Unlocked) or a negative response with an NRC byte (Denied) decides the
// outcome; other traffic on the response ID is ignored. If timeout elapses
// first the outcome is NoFinalResponse, which is not an error.
// A non-positive timeout uses the configured result timeout.
func (e *Engine) AwaitResult(ctx context.Context, timeout time.Duration) (Outcome, error) {
	if st := e.State(); st != StateKeySent {
		return Outcome{}, fmt.Errorf("%w: await result in %s", ErrInvalidTransition, st)
	}
	if timeout <= 0 {
		timeout = e.cfg.resultTimeout
	}

	posSID := SIDSecurityAccess + positiveResponseOffset
	subFn := e.cfg.KeySubFunction()

	var out Outcome
	matched, err := e.poll(ctx, timeout, PhaseResult, func(p []byte) bool {
		switch {
		case len(p) >= 2 && p[0] == posSID && p[1] == subFn:
			out = Outcome{Kind: OutcomeUnlocked}
			return true
		case len(p) >= 3 && p[0] == SIDNegativeResponse:
			out = Outcome{Kind: OutcomeDenied, NRC: NRC(p[2])}
			return true
		default:
			return false
		}
	})
	if err != nil {
		return Outcome{}, err
	}
	if !matched {
		out = Outcome{Kind: OutcomeNoFinalResponse}
	}

	e.resolve(out)

	switch out.Kind {
	case OutcomeUnlocked:
		e.logger.Info("uds: security access granted, ECU unlocked")
	case OutcomeDenied:
		e.logger.Warn("uds: security access denied", "nrc", out.NRC.String())
	default:
		e.logger.Warn("uds: no final response received", "timeout", timeout)
	}

	return out, nil
}

// poll receives frames in pollInterval slices until match accepts one or
// timeout elapses. Only frames on the response ID are offered to match.
// Empty slices are never inspected.
func (e *Engine) poll(ctx context.Context, timeout time.Duration, phase Phase, match func(payload []byte) bool) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			e.abort()
			return false, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}

		f, err := e.tr.Receive(min(e.cfg.pollInterval, remaining))
		if err != nil {
			e.metrics.incTransportErrCount()
			e.abort()
			e.logger.Error("uds: receive failed", "phase", phase, "error", err)

			return false, fmt.Errorf("%w: receive in %s phase: %w", ErrTransport, phase, err)
		}
		if f == nil {
			continue
		}

		e.metrics.incFrameRecvCount()
		if f.ID == e.cfg.responseID && match(f.Payload()) {
			return true, nil
		}

		e.metrics.incFrameIgnoredCount()
		e.logger.Debug("uds: frame ignored", "phase", phase, "frame", f.String())
	}
}

// flush drops frames the transport buffered before this exchange began.
func (e *Engine) flush() error {
	for n := 0; n < maxFlushFrames; n++ {
		f, err := e.tr.Receive(0)
		if err != nil {
			e.metrics.incTransportErrCount()
			e.abort()

			return fmt.Errorf("%w: flush: %w", ErrTransport, err)
		}
		if f == nil {
			if n > 0 {
				e.logger.Debug("uds: stale frames discarded", "count", n)
			}
			return nil
		}
		e.metrics.incFrameIgnoredCount()
	}

	return nil
}

// send builds [SID, subFn, data...] on the request ID and transmits it.
// A send failure aborts the exchange.
func (e *Engine) send(subFn byte, data []byte) error {
	payload := make([]byte, 0, can.MaxDataLen)
	payload = append(payload, SIDSecurityAccess, subFn)
	payload = append(payload, data...)

	f, err := can.NewFrame(e.cfg.requestID, payload)
	if err != nil {
		e.abort()
		return err
	}
	if e.cfg.padding {
		f.Pad()
	}

	if err := e.tr.Send(f); err != nil {
		e.metrics.incTransportErrCount()
		e.abort()
		e.logger.Error("uds: send failed", "frame", f.String(), "error", err)

		return err
	}

	e.metrics.incFrameSendCount()
	e.logger.Debug("uds: frame sent", "frame", f.String())

	return nil
}

func (e *Engine) resolve(o Outcome) {
	e.outcome = o
	e.hasOutcome = true
	e.state.Set(StateResolved)
	e.metrics.recordOutcome(o)
}

func (e *Engine) abort() {
	e.outcome = Outcome{}
	e.hasOutcome = false
	e.state.Set(StateResolved)
}
