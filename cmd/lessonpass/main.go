package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/lessonpass/adapter/api"
	"github.com/felixgeelhaar/lessonpass/adapter/cli"
	"github.com/felixgeelhaar/lessonpass/adapter/cli/center"
	"github.com/felixgeelhaar/lessonpass/adapter/cli/plans"
	"github.com/felixgeelhaar/lessonpass/adapter/cli/subscription"
	"github.com/felixgeelhaar/lessonpass/internal/app"
	"github.com/felixgeelhaar/lessonpass/pkg/config"
)

func main() {
	// Create context with cancellation on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)
	cli.SetLogger(logger)

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
		// In development, version and help still work without a database
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()

		cliApp := cli.NewApp(container)
		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = cfg.HTTPAddr
		cliApp.SetServer(api.NewServer(serverCfg, api.ServerDeps{
			Handler: api.NewHandler(api.HandlerConfig{
				Bookings:      container.Bookings,
				Subscriptions: container.Subscriptions,
				Reconciler:    container.Reconciler,
				Refunds:       container.Refunds,
				Logger:        logger,
			}),
			Health:         container.Health,
			Metrics:        container.Metrics,
			MetricsHandler: container.Prometheus.Handler(),
			Logger:         logger,
		}))
		cli.SetApp(cliApp)
	}

	// Register commands
	cli.AddCommand(center.Cmd)
	cli.AddCommand(plans.Cmd)
	cli.AddCommand(subscription.Cmd)

	// Execute CLI
	cli.Execute(ctx)
}
