package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/DoyleJ11/bubble-arena/internal/config"
	"github.com/DoyleJ11/bubble-arena/internal/logging"
	"github.com/DoyleJ11/bubble-arena/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		httpListen string
		logLevel   string
	)
	flagSet := pflag.NewFlagSet("bubble-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flagSet.StringVar(&listen, "listen", "", "TCP address for game connections (overrides config)")
	flagSet.StringVar(&httpListen, "http", "", "HTTP address for /healthz, /stats, /scoreboard and /ws (overrides config)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if flagSet.Changed("listen") {
		cfg.Listen = listen
	}
	if flagSet.Changed("http") {
		cfg.HTTPListen = httpListen
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting",
		zap.String("listen", cfg.Listen),
		zap.String("http", cfg.HTTPListen),
		zap.Int("win_score", cfg.Game.WinScore),
	)
	if err := server.New(cfg, logger).Serve(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("stopped")
	return nil
}
