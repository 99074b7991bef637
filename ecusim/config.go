package ecusim

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

// Default simulator settings.
const (
	DefaultKeyWindow    = 10 * time.Second
	DefaultRelockAfter  = 30 * time.Second
	DefaultPollInterval = 50 * time.Millisecond
)

type config struct {
	requestID     uint32
	responseID    uint32
	securityLevel byte
	keyAlgorithm  uds.KeyAlgorithm
	seedSource    func() byte
	keyWindow     time.Duration
	relockAfter   time.Duration
	pollInterval  time.Duration
	logger        logger.Logger
}

func newConfig(opts []Option) (*config, error) {
	cfg := &config{
		requestID:     uds.DefaultRequestID,
		responseID:    uds.DefaultResponseID,
		securityLevel: uds.DefaultSecurityLevel,
		keyAlgorithm:  uds.XORSingle(uds.DefaultXORConstant),
		seedSource:    func() byte { return byte(rand.UintN(256)) }, //nolint:gosec // simulated seed
		keyWindow:     DefaultKeyWindow,
		relockAfter:   DefaultRelockAfter,
		pollInterval:  DefaultPollInterval,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option configures an ECU.
type Option interface {
	apply(*config) error
}

type optFunc func(*config) error

func (f optFunc) apply(cfg *config) error { return f(cfg) }

// WithRequestID sets the identifier the ECU listens on.
func WithRequestID(id uint32) Option {
	return optFunc(func(cfg *config) error {
		if id > can.MaxStdID {
			return fmt.Errorf("ecusim: request ID 0x%X exceeds 0x%X", id, can.MaxStdID)
		}
		cfg.requestID = id

		return nil
	})
}

// WithResponseID sets the identifier the ECU answers on.
func WithResponseID(id uint32) Option {
	return optFunc(func(cfg *config) error {
		if id > can.MaxStdID {
			return fmt.Errorf("ecusim: response ID 0x%X exceeds 0x%X", id, can.MaxStdID)
		}
		cfg.responseID = id

		return nil
	})
}

// WithSecurityLevel sets the SecurityAccess level the ECU answers for.
func WithSecurityLevel(n byte) Option {
	return optFunc(func(cfg *config) error {
		if n < 1 || n > uds.MaxSecurityLevel {
			return fmt.Errorf("ecusim: security level %d out of range [1, %d]", n, uds.MaxSecurityLevel)
		}
		cfg.securityLevel = n

		return nil
	})
}

// WithKeyAlgorithm sets the algorithm the expected key is computed with.
func WithKeyAlgorithm(alg uds.KeyAlgorithm) Option {
	return optFunc(func(cfg *config) error {
		if alg == nil {
			return errors.New("ecusim: key algorithm must not be nil")
		}
		cfg.keyAlgorithm = alg

		return nil
	})
}

// WithSeedSource replaces the random seed generator, e.g. with a fixed seed.
func WithSeedSource(fn func() byte) Option {
	return optFunc(func(cfg *config) error {
		if fn == nil {
			return errors.New("ecusim: seed source must not be nil")
		}
		cfg.seedSource = fn

		return nil
	})
}

// WithKeyWindow sets how long an issued seed stays valid.
func WithKeyWindow(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("ecusim: key window must be positive")
		}
		cfg.keyWindow = d

		return nil
	})
}

// WithRelockAfter sets how long the ECU stays unlocked.
func WithRelockAfter(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("ecusim: relock duration must be positive")
		}
		cfg.relockAfter = d

		return nil
	})
}

// WithPollInterval sets the receive slice used by Serve.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *config) error {
		if d <= 0 {
			return errors.New("ecusim: poll interval must be positive")
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithLogger sets the simulator logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *config) error {
		if l == nil {
			return errors.New("ecusim: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
