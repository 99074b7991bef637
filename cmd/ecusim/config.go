package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/arloliu/go-uds/ecusim"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

type simConfig struct {
	Channel       string
	RequestID     uint32
	ResponseID    uint32
	XORConstant   byte
	KeyVariant    uds.KeyVariant
	SecurityLevel byte
	KeyWindow     time.Duration
	RelockAfter   time.Duration
	LogLevel      logger.Level
}

type fileConfig struct {
	Channel       string `toml:"channel"`
	RequestID     int64  `toml:"request_id"`
	ResponseID    int64  `toml:"response_id"`
	XORConstant   int64  `toml:"xor_constant"`
	KeyVariant    string `toml:"key_variant"`
	SecurityLevel int64  `toml:"security_level"`
	KeyWindow     string `toml:"key_window"`
	RelockAfter   string `toml:"relock_after"`
	LogLevel      string `toml:"log_level"`
}

func defaultSimConfig() simConfig {
	return simConfig{
		Channel:       uds.DefaultChannel,
		RequestID:     uds.DefaultRequestID,
		ResponseID:    uds.DefaultResponseID,
		XORConstant:   uds.DefaultXORConstant,
		KeyVariant:    uds.VariantSingle,
		SecurityLevel: uds.DefaultSecurityLevel,
		KeyWindow:     ecusim.DefaultKeyWindow,
		RelockAfter:   ecusim.DefaultRelockAfter,
		LogLevel:      logger.InfoLevel,
	}
}

func loadSimConfig(path string) (simConfig, error) {
	cfg := defaultSimConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return simConfig{}, fmt.Errorf("load ecusim config: %w", err)
	}

	if meta.IsDefined("channel") {
		cfg.Channel = strings.TrimSpace(raw.Channel)
	}
	if meta.IsDefined("request_id") {
		if raw.RequestID < 0 || raw.RequestID > 0x7FF {
			return simConfig{}, fmt.Errorf("request_id out of range: 0x%X", raw.RequestID)
		}
		cfg.RequestID = uint32(raw.RequestID)
	}
	if meta.IsDefined("response_id") {
		if raw.ResponseID < 0 || raw.ResponseID > 0x7FF {
			return simConfig{}, fmt.Errorf("response_id out of range: 0x%X", raw.ResponseID)
		}
		cfg.ResponseID = uint32(raw.ResponseID)
	}
	if meta.IsDefined("xor_constant") {
		if raw.XORConstant < 0 || raw.XORConstant > 0xFF {
			return simConfig{}, fmt.Errorf("xor_constant out of range: %d", raw.XORConstant)
		}
		cfg.XORConstant = byte(raw.XORConstant)
	}
	if meta.IsDefined("key_variant") {
		if cfg.KeyVariant, err = uds.ParseKeyVariant(raw.KeyVariant); err != nil {
			return simConfig{}, fmt.Errorf("parse key_variant: %w", err)
		}
	}
	if meta.IsDefined("security_level") {
		if raw.SecurityLevel < 1 || raw.SecurityLevel > uds.MaxSecurityLevel {
			return simConfig{}, fmt.Errorf("security_level out of range: %d", raw.SecurityLevel)
		}
		cfg.SecurityLevel = byte(raw.SecurityLevel)
	}
	if meta.IsDefined("key_window") {
		if cfg.KeyWindow, err = time.ParseDuration(strings.TrimSpace(raw.KeyWindow)); err != nil {
			return simConfig{}, fmt.Errorf("parse key_window: %w", err)
		}
	}
	if meta.IsDefined("relock_after") {
		if cfg.RelockAfter, err = time.ParseDuration(strings.TrimSpace(raw.RelockAfter)); err != nil {
			return simConfig{}, fmt.Errorf("parse relock_after: %w", err)
		}
	}
	if meta.IsDefined("log_level") {
		if cfg.LogLevel, err = parseLogLevel(raw.LogLevel); err != nil {
			return simConfig{}, err
		}
	}

	return cfg, nil
}

// applyEnv overrides cfg with ECUSIM_* environment variables.
func applyEnv(cfg *simConfig) error {
	if val := os.Getenv("ECUSIM_CHANNEL"); val != "" {
		cfg.Channel = val
	}
	if val := os.Getenv("ECUSIM_KEY_VARIANT"); val != "" {
		v, err := uds.ParseKeyVariant(val)
		if err != nil {
			return fmt.Errorf("ECUSIM_KEY_VARIANT: %w", err)
		}
		cfg.KeyVariant = v
	}
	if val := os.Getenv("ECUSIM_LOG_LEVEL"); val != "" {
		level, err := parseLogLevel(val)
		if err != nil {
			return fmt.Errorf("ECUSIM_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	return nil
}

// ecuOptions translates cfg into simulator options.
func (cfg simConfig) ecuOptions(l logger.Logger) ([]ecusim.Option, error) {
	alg, err := uds.NewKeyAlgorithm(cfg.KeyVariant, cfg.XORConstant)
	if err != nil {
		return nil, err
	}

	return []ecusim.Option{
		ecusim.WithRequestID(cfg.RequestID),
		ecusim.WithResponseID(cfg.ResponseID),
		ecusim.WithSecurityLevel(cfg.SecurityLevel),
		ecusim.WithKeyAlgorithm(alg),
		ecusim.WithKeyWindow(cfg.KeyWindow),
		ecusim.WithRelockAfter(cfg.RelockAfter),
		ecusim.WithLogger(l),
	}, nil
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
