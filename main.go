package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"squall/features/echo"
	"squall/features/relay"
	"squall/internal/app"
	"squall/internal/config"
	"squall/internal/controller"
	"squall/internal/job"
	"squall/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Structured logger with correlation ids
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("squall exited", "error", err)
		os.Exit(1)
	}
}

// jobTypes lists the job types served by this binary.
func jobTypes() []app.JobType {
	return []app.JobType{
		func(base job.Definition, _ *controller.Set) job.Definition {
			return echo.Definition(base)
		},
		func(base job.Definition, set *controller.Set) job.Definition {
			return relay.Definition(base, echo.Name, set)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			slog.Warn("failed to close clients", "error", err)
		}
	}()

	application, err := app.New(cfg, deps.Store, deps.Broker, log,
		&app.Options{Subscriber: deps.Subscriber, Version: version},
		jobTypes()...)
	if err != nil {
		return err
	}
	return application.Run(ctx)
}
