package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/rfanctl/internal/client"
	"codeberg.org/mutker/rfanctl/internal/config"
	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
)

func main() {
	cfg, err := config.Load(config.RoleClient, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, logger.IsService())
	log := logger.Default()

	if cfg.Host == "" {
		logger.Fatal().Msg("No server host configured")
	}

	fs := hwmon.New()
	sensors := hwmon.ResolveSensors(fs, cfg.Sensors, log)
	if len(sensors) == 0 {
		logger.Info().Msg("No sensors configured, attempting auto-detection")
		sensors = hwmon.AutoDetectSensors(fs, log)
	}

	interval := time.Duration(cfg.SleepInterval * float64(time.Second))
	reporter, err := client.New(cfg.Host, cfg.Port, fs, sensors, interval, log)
	if err != nil {
		logger.Fatal().Err(err).Msg("No usable temperature sensors")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := reporter.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Monitor loop failed")
		os.Exit(1)
	}

	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
