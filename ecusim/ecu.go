// Package ecusim simulates the ECU side of UDS SecurityAccess on a CAN bus.
//
// The simulated ECU issues a random seed on requestSeed, expects the key
// computed by a configurable uds.KeyAlgorithm within a key window, answers
// invalidKey (0x35) on a mismatch and relocks on its own after a while.
// It pairs with the virtual transport for tests and with a vcan interface
// for bench demos.
package ecusim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

const positiveSecurityAccess = uds.SIDSecurityAccess + 0x40

// Metrics contains atomic counters of the simulator.
type Metrics struct {
	// SeedIssuedCount indicates the number of seeds sent.
	SeedIssuedCount atomic.Uint64
	// UnlockCount indicates the number of accepted keys.
	UnlockCount atomic.Uint64
	// InvalidKeyCount indicates the number of rejected keys.
	InvalidKeyCount atomic.Uint64
	// ExpiredKeyCount indicates keys that arrived after the key window.
	ExpiredKeyCount atomic.Uint64
}

type secState int

const (
	secIdle secState = iota
	secWaitKey
)

// ECU answers SecurityAccess requests arriving on its transport.
type ECU struct {
	tr     can.Transport
	cfg    *config
	logger logger.Logger

	mu         sync.Mutex
	state      secState
	seed       byte
	seedAt     time.Time
	unlocked   bool
	unlockedAt time.Time

	metrics Metrics
}

// New creates a locked ECU listening on tr.
func New(tr can.Transport, opts ...Option) (*ECU, error) {
	if tr == nil {
		return nil, errors.New("ecusim: transport is nil")
	}

	cfg, err := newConfig(opts)
	if err != nil {
		return nil, err
	}

	return &ECU{
		tr:     tr,
		cfg:    cfg,
		logger: cfg.logger.With("component", "ecusim"),
	}, nil
}

// Metrics returns the simulator counters.
func (ecu *ECU) Metrics() *Metrics { return &ecu.metrics }

// Unlocked reports whether a key was accepted within the relock period.
func (ecu *ECU) Unlocked() bool {
	ecu.mu.Lock()
	defer ecu.mu.Unlock()

	ecu.relockIfDue(time.Now())

	return ecu.unlocked
}

// Serve handles incoming frames until ctx is done. It returns nil on
// cancellation and the transport error otherwise.
func (ecu *ECU) Serve(ctx context.Context) error {
	ecu.logger.Info("ecusim: serving security access",
		"requestID", fmt.Sprintf("0x%03X", ecu.cfg.requestID),
		"responseID", fmt.Sprintf("0x%03X", ecu.cfg.responseID),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := ecu.tr.Receive(ecu.cfg.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("ecusim: receive: %w", err)
		}
		if f == nil {
			continue
		}

		if err := ecu.Handle(f); err != nil {
			return err
		}
	}
}

// Handle processes one frame and sends the reply, if any.
// Frames not addressed to the ECU or not SecurityAccess are ignored.
func (ecu *ECU) Handle(f *can.Frame) error {
	if f.ID != ecu.cfg.requestID {
		return nil
	}
	p := f.Payload()
	if len(p) < 2 || p[0] != uds.SIDSecurityAccess {
		return nil
	}

	seedFn := ecu.cfg.securityLevel*2 - 1
	keyFn := ecu.cfg.securityLevel * 2

	switch p[1] {
	case seedFn:
		return ecu.issueSeed(seedFn)
	case keyFn:
		return ecu.checkKey(keyFn, p[2:])
	default:
		return nil
	}
}

func (ecu *ECU) issueSeed(subFn byte) error {
	ecu.mu.Lock()
	ecu.seed = ecu.cfg.seedSource()
	ecu.seedAt = time.Now()
	ecu.state = secWaitKey
	seed := ecu.seed
	ecu.mu.Unlock()

	ecu.metrics.SeedIssuedCount.Add(1)
	ecu.logger.Info("ecusim: seed issued", "seed", fmt.Sprintf("0x%02X", seed))

	return ecu.reply(positiveSecurityAccess, subFn, seed)
}

func (ecu *ECU) checkKey(subFn byte, key []byte) error {
	ecu.mu.Lock()
	if ecu.state != secWaitKey {
		ecu.mu.Unlock()
		return nil
	}

	now := time.Now()
	if now.Sub(ecu.seedAt) > ecu.cfg.keyWindow {
		ecu.state = secIdle
		ecu.mu.Unlock()
		ecu.metrics.ExpiredKeyCount.Add(1)
		ecu.logger.Warn("ecusim: key window expired", "window", ecu.cfg.keyWindow)

		return nil
	}

	expected := ecu.cfg.keyAlgorithm.DeriveKey(ecu.seed)
	if len(key) < len(expected) {
		ecu.mu.Unlock()
		return nil
	}

	if bytes.Equal(key[:len(expected)], expected) {
		ecu.unlocked = true
		ecu.unlockedAt = now
		ecu.state = secIdle
		ecu.mu.Unlock()

		ecu.metrics.UnlockCount.Add(1)
		ecu.logger.Info("ecusim: key accepted, unlocked")

		return ecu.reply(positiveSecurityAccess, subFn, 0x00)
	}

	ecu.unlocked = false
	ecu.mu.Unlock()

	ecu.metrics.InvalidKeyCount.Add(1)
	ecu.logger.Warn("ecusim: invalid key",
		"key", fmt.Sprintf("% X", key[:len(expected)]),
		"expected", fmt.Sprintf("% X", expected),
	)

	return ecu.reply(uds.SIDNegativeResponse, uds.SIDSecurityAccess, byte(uds.NRCInvalidKey))
}

// relockIfDue must be called with mu held.
func (ecu *ECU) relockIfDue(now time.Time) {
	if ecu.unlocked && now.Sub(ecu.unlockedAt) > ecu.cfg.relockAfter {
		ecu.unlocked = false
		ecu.logger.Info("ecusim: relocked after inactivity", "after", ecu.cfg.relockAfter)
	}
}

func (ecu *ECU) reply(payload ...byte) error {
	f, err := can.NewFrame(ecu.cfg.responseID, payload)
	if err != nil {
		return err
	}
	if err := ecu.tr.Send(f); err != nil {
		return fmt.Errorf("ecusim: send reply: %w", err)
	}
	ecu.logger.Debug("ecusim: frame sent", "frame", f.String())

	return nil
}
