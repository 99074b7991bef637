// Command udsunlock performs one UDS SecurityAccess unlock against an ECU
// and exits 0 when the ECU reports it is unlocked, 1 otherwise.
//
// Settings come from an optional TOML file (-config), then UDS_* environment
// variables, then command line flags. With transport "virtual" an in-process
// simulated ECU answers on a virtual bus, which is handy for demos.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-uds/can"
	"github.com/arloliu/go-uds/can/socketcan"
	"github.com/arloliu/go-uds/can/virtual"
	"github.com/arloliu/go-uds/ecusim"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a TOML config file")
	channel := flag.String("channel", "", "CAN interface or virtual bus name (overrides config)")
	transport := flag.String("transport", "", "transport: socketcan | virtual (overrides config)")
	variant := flag.String("variant", "", "key variant: single | triple (overrides config)")
	flag.Parse()

	cfg, err := loadRunConfig(*configPath)
	if err == nil {
		err = applyEnv(&cfg)
	}
	if err == nil {
		err = applyFlags(&cfg, *channel, *transport, *variant)
	}
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "udsunlock: %v\n", err)
		return 1
	}

	l := logger.NewSlog(cfg.LogLevel, false)
	logger.SetDefault(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := unlock(ctx, cfg, l)
	if err != nil {
		l.Error("security access aborted", "channel", cfg.Channel, "error", err)
		return 1
	}

	if !out.Unlocked() {
		l.Warn("security access failed", "channel", cfg.Channel, "outcome", out.String())
		return 1
	}
	l.Info("security access granted", "channel", cfg.Channel, "outcome", out.String())

	return 0
}

func applyFlags(cfg *runConfig, channel, transport, variant string) error {
	if channel != "" {
		cfg.Channel = channel
	}
	if transport != "" {
		cfg.Transport = transport
	}
	if variant != "" {
		v, err := uds.ParseKeyVariant(variant)
		if err != nil {
			return err
		}
		cfg.KeyVariant = v
	}

	return nil
}

// unlock opens the transport described by cfg and runs one exchange.
func unlock(ctx context.Context, cfg runConfig, l logger.Logger) (uds.Outcome, error) {
	engCfg, err := uds.NewConfig(cfg.engineOptions(l)...)
	if err != nil {
		return uds.Outcome{}, err
	}

	tr, err := openTransport(ctx, cfg, engCfg, l)
	if err != nil {
		return uds.Outcome{}, err
	}
	defer tr.Close()

	eng, err := uds.NewEngine(tr, engCfg)
	if err != nil {
		return uds.Outcome{}, err
	}

	out, err := eng.Run(ctx)
	m := eng.Metrics()
	l.Debug("engine metrics",
		"frames_sent", m.FrameSendCount.Load(),
		"frames_received", m.FrameRecvCount.Load(),
		"frames_ignored", m.FrameIgnoredCount.Load(),
	)

	return out, err
}

func openTransport(ctx context.Context, cfg runConfig, engCfg *uds.Config, l logger.Logger) (can.Transport, error) {
	if cfg.Transport == transportSocketCAN {
		conn, err := socketcan.Open(cfg.Channel, socketcan.WithFilter(cfg.ResponseID))
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	// virtual: serve the exchange from a simulated ECU on the same bus.
	ecu, err := ecusim.New(virtual.Open(cfg.Channel),
		ecusim.WithRequestID(cfg.RequestID),
		ecusim.WithResponseID(cfg.ResponseID),
		ecusim.WithSecurityLevel(cfg.SecurityLevel),
		ecusim.WithKeyAlgorithm(engCfg.KeyAlgorithm()),
		ecusim.WithLogger(l),
	)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := ecu.Serve(ctx); err != nil {
			l.Error("simulated ECU stopped", "error", err)
		}
	}()

	return virtual.Open(cfg.Channel), nil
}
