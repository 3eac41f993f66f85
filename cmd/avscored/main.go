// Command avscored is the demo server binary: it loads configuration, wires
// the Directive Sequencer / Audio Input Processor / External Media Player
// core via internal/app, and runs until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emberline/avscore/internal/app"
	"github.com/emberline/avscore/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("avscored exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configureLogger(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}

	slog.Info("avscored starting", "listen_addr", cfg.Server.ListenAddr, "agent", cfg.Device.Agent)

	runErr := a.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	return runErr
}

func configureLogger(level config.LogLevel) {
	var slevel slog.Level
	switch level {
	case config.LogLevelDebug:
		slevel = slog.LevelDebug
	case config.LogLevelWarn:
		slevel = slog.LevelWarn
	case config.LogLevelError:
		slevel = slog.LevelError
	default:
		slevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slevel})))
}
