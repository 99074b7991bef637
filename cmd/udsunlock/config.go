package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

const (
	transportSocketCAN = "socketcan"
	transportVirtual   = "virtual"
)

// runConfig is the resolved configuration of one unlock attempt.
type runConfig struct {
	Transport     string
	Channel       string
	RequestID     uint32
	ResponseID    uint32
	XORConstant   byte
	KeyVariant    uds.KeyVariant
	SecurityLevel byte
	SeedTimeout   time.Duration
	ResultTimeout time.Duration
	PollInterval  time.Duration
	Padding       bool
	LogLevel      logger.Level
}

type fileConfig struct {
	Transport     string `toml:"transport"`
	Channel       string `toml:"channel"`
	RequestID     int64  `toml:"request_id"`
	ResponseID    int64  `toml:"response_id"`
	XORConstant   int64  `toml:"xor_constant"`
	KeyVariant    string `toml:"key_variant"`
	SecurityLevel int64  `toml:"security_level"`
	SeedTimeout   string `toml:"seed_timeout"`
	ResultTimeout string `toml:"result_timeout"`
	PollInterval  string `toml:"poll_interval"`
	Padding       bool   `toml:"padding"`
	LogLevel      string `toml:"log_level"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		Transport:     transportSocketCAN,
		Channel:       uds.DefaultChannel,
		RequestID:     uds.DefaultRequestID,
		ResponseID:    uds.DefaultResponseID,
		XORConstant:   uds.DefaultXORConstant,
		KeyVariant:    uds.VariantSingle,
		SecurityLevel: uds.DefaultSecurityLevel,
		SeedTimeout:   uds.DefaultSeedTimeout,
		ResultTimeout: uds.DefaultResultTimeout,
		PollInterval:  uds.DefaultPollInterval,
		Padding:       true,
		LogLevel:      logger.InfoLevel,
	}
}

// loadRunConfig overlays the keys present in the TOML file at path onto the
// defaults. An empty path yields the defaults.
func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runConfig{}, fmt.Errorf("load udsunlock config: %w", err)
	}

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("request_id") {
		id, err := canID("request_id", raw.RequestID)
		if err != nil {
			return runConfig{}, err
		}
		cfg.RequestID = id
	}
	if meta.IsDefined("response_id") {
		id, err := canID("response_id", raw.ResponseID)
		if err != nil {
			return runConfig{}, err
		}
		cfg.ResponseID = id
	}
	if meta.IsDefined("xor_constant") {
		if raw.XORConstant < 0 || raw.XORConstant > 0xFF {
			return runConfig{}, fmt.Errorf("xor_constant out of range: %d", raw.XORConstant)
		}
		cfg.XORConstant = byte(raw.XORConstant)
	}
	if meta.IsDefined("key_variant") {
		v, err := uds.ParseKeyVariant(raw.KeyVariant)
		if err != nil {
			return runConfig{}, fmt.Errorf("parse key_variant: %w", err)
		}
		cfg.KeyVariant = v
	}
	if meta.IsDefined("security_level") {
		if raw.SecurityLevel < 1 || raw.SecurityLevel > uds.MaxSecurityLevel {
			return runConfig{}, fmt.Errorf("security_level out of range: %d", raw.SecurityLevel)
		}
		cfg.SecurityLevel = byte(raw.SecurityLevel)
	}
	if meta.IsDefined("seed_timeout") {
		if cfg.SeedTimeout, err = parseDuration("seed_timeout", raw.SeedTimeout); err != nil {
			return runConfig{}, err
		}
	}
	if meta.IsDefined("result_timeout") {
		if cfg.ResultTimeout, err = parseDuration("result_timeout", raw.ResultTimeout); err != nil {
			return runConfig{}, err
		}
	}
	if meta.IsDefined("poll_interval") {
		if cfg.PollInterval, err = parseDuration("poll_interval", raw.PollInterval); err != nil {
			return runConfig{}, err
		}
	}
	if meta.IsDefined("padding") {
		cfg.Padding = raw.Padding
	}
	if meta.IsDefined("log_level") {
		if cfg.LogLevel, err = parseLogLevel(raw.LogLevel); err != nil {
			return runConfig{}, err
		}
	}

	return cfg, nil
}

// applyEnv overrides cfg with UDS_* environment variables.
func applyEnv(cfg *runConfig) error {
	if val := os.Getenv("UDS_TRANSPORT"); val != "" {
		cfg.Transport = strings.ToLower(val)
	}
	if val := os.Getenv("UDS_CHANNEL"); val != "" {
		cfg.Channel = val
	}
	if val := os.Getenv("UDS_KEY_VARIANT"); val != "" {
		v, err := uds.ParseKeyVariant(val)
		if err != nil {
			return fmt.Errorf("UDS_KEY_VARIANT: %w", err)
		}
		cfg.KeyVariant = v
	}
	if val := os.Getenv("UDS_LOG_LEVEL"); val != "" {
		level, err := parseLogLevel(val)
		if err != nil {
			return fmt.Errorf("UDS_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	return nil
}

func (cfg runConfig) validate() error {
	switch cfg.Transport {
	case transportSocketCAN, transportVirtual:
	default:
		return fmt.Errorf("unknown transport %q (want %s or %s)", cfg.Transport, transportSocketCAN, transportVirtual)
	}
	if cfg.Channel == "" {
		return fmt.Errorf("channel is empty")
	}

	return nil
}

// engineOptions translates cfg into engine options.
func (cfg runConfig) engineOptions(l logger.Logger) []uds.Option {
	return []uds.Option{
		uds.WithChannel(cfg.Channel),
		uds.WithRequestID(cfg.RequestID),
		uds.WithResponseID(cfg.ResponseID),
		uds.WithXORConstant(cfg.XORConstant),
		uds.WithKeyVariant(cfg.KeyVariant),
		uds.WithSecurityLevel(cfg.SecurityLevel),
		uds.WithSeedTimeout(cfg.SeedTimeout),
		uds.WithResultTimeout(cfg.ResultTimeout),
		uds.WithPollInterval(cfg.PollInterval),
		uds.WithPadding(cfg.Padding),
		uds.WithLogger(l),
	}
}

func canID(key string, v int64) (uint32, error) {
	if v < 0 || v > 0x7FF {
		return 0, fmt.Errorf("%s out of range: 0x%X", key, v)
	}

	return uint32(v), nil
}

func parseDuration(key string, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	return d, nil
}

func parseLogLevel(s string) (logger.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logger.DebugLevel, nil
	case "info", "":
		return logger.InfoLevel, nil
	case "warn", "warning":
		return logger.WarnLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
