// Command ecusim runs a simulated ECU that answers UDS SecurityAccess
// requests on a SocketCAN interface until it receives SIGINT or SIGTERM.
//
//	sudo ip link add dev vcan0 type vcan && sudo ip link set up vcan0
//	ecusim -channel vcan0 -variant triple
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arloliu/go-uds/can/socketcan"
	"github.com/arloliu/go-uds/ecusim"
	"github.com/arloliu/go-uds/logger"
	"github.com/arloliu/go-uds/uds"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	channel := flag.String("channel", "", "CAN interface (overrides config)")
	variant := flag.String("variant", "", "key variant: single | triple (overrides config)")
	flag.Parse()

	cfg, err := loadSimConfig(*configPath)
	if err == nil {
		err = applyEnv(&cfg)
	}
	if err == nil && *channel != "" {
		cfg.Channel = *channel
	}
	if err == nil && *variant != "" {
		cfg.KeyVariant, err = uds.ParseKeyVariant(*variant)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ecusim: %v\n", err)
		os.Exit(1)
	}

	l := logger.NewSlog(cfg.LogLevel, false)
	logger.SetDefault(l)

	opts, err := cfg.ecuOptions(l)
	if err != nil {
		l.Fatal("invalid simulator settings", "error", err)
	}

	conn, err := socketcan.Open(cfg.Channel, socketcan.WithFilter(cfg.RequestID))
	if err != nil {
		l.Fatal("open CAN interface", "channel", cfg.Channel, "error", err)
	}
	defer conn.Close()

	ecu, err := ecusim.New(conn, opts...)
	if err != nil {
		l.Fatal("create simulator", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ecu.Serve(ctx); err != nil {
		l.Error("simulator stopped", "error", err)
		return
	}

	m := ecu.Metrics()
	l.Info("simulator stopped",
		"seeds_issued", m.SeedIssuedCount.Load(),
		"unlocks", m.UnlockCount.Load(),
		"invalid_keys", m.InvalidKeyCount.Load(),
		"expired_keys", m.ExpiredKeyCount.Load(),
	)
}
