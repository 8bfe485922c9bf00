package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/rfanctl/internal/actuator"
	"codeberg.org/mutker/rfanctl/internal/config"
	"codeberg.org/mutker/rfanctl/internal/curve"
	"codeberg.org/mutker/rfanctl/internal/errors"
	"codeberg.org/mutker/rfanctl/internal/events"
	"codeberg.org/mutker/rfanctl/internal/hwmon"
	"codeberg.org/mutker/rfanctl/internal/logger"
	"codeberg.org/mutker/rfanctl/internal/server"
)

func main() {
	cfg, err := config.Load(config.RoleServer, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, logger.IsService())
	log := logger.Default()
	logConfiguration(cfg)

	fanCurve, err := curve.New(cfg.Temps, cfg.Pwms)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid fan curve")
	}

	recorder, err := events.NewService(eventsConfig(cfg), log)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize event store")
	}
	defer recorder.Close()

	fans, err := actuator.Build(hwmon.New(), cfg.Fans, cfg.FailsafeFanPercent, cfg.InitialFanPercent, log)
	if err != nil {
		logger.Fatal().Err(err).Msg("No usable fans")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	srv := server.New(cfg.Host, cfg.Port, fans, fanCurve, cfg.Hysteresis, recorder, log)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Server failed")
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

func eventsConfig(cfg *config.Config) events.Config {
	eventsCfg := events.DefaultConfig()
	if cfg.EventsDB != "" {
		eventsCfg.DBPath = cfg.EventsDB
		eventsCfg.Enabled = true
	}

	return eventsCfg
}

func logConfiguration(cfg *config.Config) {
	logger.Info().
		Ints("temps", cfg.Temps).
		Ints("pwms", cfg.Pwms).
		Int("hysteresis", cfg.Hysteresis).
		Float64("interval", cfg.SleepInterval).
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Int("failsafe_percent", cfg.FailsafeFanPercent).
		Int("initial_percent", cfg.InitialFanPercent).
		Msg("Server configuration")
}
