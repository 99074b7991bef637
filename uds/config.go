package uds

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/logger"
)

// SecurityAccess service constants (ISO 14229-1 §9.4).
const (
	SIDSecurityAccess   byte = 0x27
	SIDNegativeResponse byte = 0x7F

	// positiveResponseOffset is added to a request SID to form its positive response SID.
	positiveResponseOffset byte = 0x40
)

// Default configuration values.
const (
	DefaultChannel              = "vcan0"
	DefaultRequestID     uint32 = 0x7DF // functional request
	DefaultResponseID    uint32 = 0x7E8 // physical response of ECU #1
	DefaultXORConstant   byte   = 0xAA
	DefaultSecurityLevel byte   = 1
	DefaultSeedTimeout          = 2 * time.Second
	DefaultResultTimeout        = 2 * time.Second
	DefaultPollInterval         = 100 * time.Millisecond
)

// Limits enforced on configuration values.
const (
	MaxSecurityLevel = 0x3F // requestSeed sub-functions 0x01..0x7D
	MinPollInterval  = time.Millisecond
)

// maxKeyLen is the room left in a single frame after SID and sub-function.
const maxKeyLen = can.MaxDataLen - 2

// Config holds the immutable settings of an Engine. Build it with NewConfig.
type Config struct {
	channel    string
	requestID  uint32
	responseID uint32

	xorConstant   byte
	keyVariant    KeyVariant
	keyAlgorithm  KeyAlgorithm
	securityLevel byte

	seedTimeout   time.Duration
	resultTimeout time.Duration
	pollInterval  time.Duration

	// padding zero-fills outbound frames to 8 bytes.
	padding bool
	// flushPending discards frames buffered before Run starts.
	flushPending bool

	logger logger.Logger
}

// NewConfig creates an engine configuration. opts are applied in order.
//
// Unless WithKeyAlgorithm is given, the key algorithm is the built-in policy
// selected by WithKeyVariant using the WithXORConstant constant, regardless
// of the order the options appear in.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		channel:       DefaultChannel,
		requestID:     DefaultRequestID,
		responseID:    DefaultResponseID,
		xorConstant:   DefaultXORConstant,
		keyVariant:    VariantSingle,
		securityLevel: DefaultSecurityLevel,
		seedTimeout:   DefaultSeedTimeout,
		resultTimeout: DefaultResultTimeout,
		pollInterval:  DefaultPollInterval,
		padding:       true,
		flushPending:  true,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.requestID == cfg.responseID {
		return nil, fmt.Errorf("uds: request and response ID must differ (0x%03X)", cfg.requestID)
	}

	if cfg.keyAlgorithm == nil {
		alg, err := NewKeyAlgorithm(cfg.keyVariant, cfg.xorConstant)
		if err != nil {
			return nil, err
		}
		cfg.keyAlgorithm = alg
	}

	return cfg, nil
}

// Channel returns the bus channel name, e.g. "vcan0".
func (cfg *Config) Channel() string { return cfg.channel }

// RequestID returns the identifier requests are sent on.
func (cfg *Config) RequestID() uint32 { return cfg.requestID }

// ResponseID returns the identifier the ECU answers on.
func (cfg *Config) ResponseID() uint32 { return cfg.responseID }

// XORConstant returns the constant of the built-in key policies.
func (cfg *Config) XORConstant() byte { return cfg.xorConstant }

// KeyVariant returns the selected built-in key policy.
func (cfg *Config) KeyVariant() KeyVariant { return cfg.keyVariant }

// KeyAlgorithm returns the effective key algorithm.
func (cfg *Config) KeyAlgorithm() KeyAlgorithm { return cfg.keyAlgorithm }

// SecurityLevel returns the SecurityAccess level.
func (cfg *Config) SecurityLevel() byte { return cfg.securityLevel }

// SeedSubFunction returns the requestSeed sub-function for the security level (2n-1).
func (cfg *Config) SeedSubFunction() byte { return cfg.securityLevel*2 - 1 }

// KeySubFunction returns the sendKey sub-function for the security level (2n).
func (cfg *Config) KeySubFunction() byte { return cfg.securityLevel * 2 }

// SeedTimeout returns the cumulative wait bound for the seed response.
func (cfg *Config) SeedTimeout() time.Duration { return cfg.seedTimeout }

// ResultTimeout returns the cumulative wait bound for the final response.
func (cfg *Config) ResultTimeout() time.Duration { return cfg.resultTimeout }

// PollInterval returns the slice passed to each transport Receive call.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// Padding reports whether outbound frames are zero-padded to 8 bytes.
func (cfg *Config) Padding() bool { return cfg.padding }

// FlushPending reports whether Run discards frames buffered before it starts.
func (cfg *Config) FlushPending() bool { return cfg.flushPending }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for NewConfig.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithChannel sets the bus channel name. Runs on the same channel are serialized.
func WithChannel(name string) Option {
	return optFunc(func(cfg *Config) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return errors.New("uds: channel must not be empty")
		}
		cfg.channel = name

		return nil
	})
}

// WithRequestID sets the 11-bit request identifier.
func WithRequestID(id uint32) Option {
	return optFunc(func(cfg *Config) error {
		if id > can.MaxStdID {
			return fmt.Errorf("uds: request ID 0x%X exceeds 0x%X", id, can.MaxStdID)
		}
		cfg.requestID = id

		return nil
	})
}

// WithResponseID sets the 11-bit ECU response identifier.
func WithResponseID(id uint32) Option {
	return optFunc(func(cfg *Config) error {
		if id > can.MaxStdID {
			return fmt.Errorf("uds: response ID 0x%X exceeds 0x%X", id, can.MaxStdID)
		}
		cfg.responseID = id

		return nil
	})
}

// WithXORConstant sets the constant used by the built-in key policies.
func WithXORConstant(c byte) Option {
	return optFunc(func(cfg *Config) error {
		cfg.xorConstant = c
		return nil
	})
}

// WithKeyVariant selects a built-in key policy. The default is VariantSingle.
func WithKeyVariant(v KeyVariant) Option {
	return optFunc(func(cfg *Config) error {
		if v != VariantSingle && v != VariantTriple {
			return fmt.Errorf("uds: unsupported key variant %s", v)
		}
		cfg.keyVariant = v

		return nil
	})
}

// WithKeyAlgorithm installs a custom key algorithm. It overrides WithKeyVariant.
func WithKeyAlgorithm(alg KeyAlgorithm) Option {
	return optFunc(func(cfg *Config) error {
		if alg == nil {
			return errors.New("uds: key algorithm must not be nil")
		}
		cfg.keyAlgorithm = alg

		return nil
	})
}

// WithSecurityLevel sets the SecurityAccess level n, giving sub-functions
// 2n-1 (requestSeed) and 2n (sendKey). Level 1 is the default.
func WithSecurityLevel(n byte) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxSecurityLevel {
			return fmt.Errorf("uds: security level %d out of range [1, %d]", n, MaxSecurityLevel)
		}
		cfg.securityLevel = n

		return nil
	})
}

// WithSeedTimeout sets the cumulative wait bound for the seed response.
func WithSeedTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("uds: seed timeout must be positive")
		}
		cfg.seedTimeout = d

		return nil
	})
}

// WithResultTimeout sets the cumulative wait bound for the final response.
func WithResultTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("uds: result timeout must be positive")
		}
		cfg.resultTimeout = d

		return nil
	})
}

// WithPollInterval sets the slice passed to each transport Receive call.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval {
			return fmt.Errorf("uds: poll interval %v below minimum %v", d, MinPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithPadding enables or disables zero-padding of outbound frames to 8 bytes.
// Enabled by default.
func WithPadding(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.padding = enabled
		return nil
	})
}

// WithFlushPending enables or disables discarding frames that were already
// buffered by the transport when Run starts, so replies meant for an earlier
// exchange are not taken for this one. Enabled by default.
func WithFlushPending(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.flushPending = enabled
		return nil
	})
}

// WithLogger sets the logger for the engine.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("uds: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
