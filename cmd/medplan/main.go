package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/medplan/medplan/adapter/api"
	"github.com/medplan/medplan/adapter/cli"
	cliBilling "github.com/medplan/medplan/adapter/cli/billing"
	"github.com/medplan/medplan/internal/app"
	"github.com/medplan/medplan/internal/shared/infrastructure/migrations"
	"github.com/medplan/medplan/pkg/config"
	"github.com/medplan/medplan/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	// Create context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cli.SetLogger(logger)

	var cliApp *cli.App
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
		// In development, allow the CLI to run without a database
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()

		if cfg.OutboxProcessorEnabled {
			if err := container.StartOutbox(ctx); err != nil {
				logger.Error("failed to start outbox processor", "error", err)
				os.Exit(1)
			}
		} else {
			logger.Info("outbox processor disabled")
		}

		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = cfg.APIAddr
		auth := api.NewAuthenticator(api.JWTConfig{
			SigningKey: []byte(cfg.JWTSigningKey),
			Issuer:     cfg.JWTIssuer,
		})
		server := api.NewServer(
			serverCfg,
			api.NewBillingHandler(container.BillingService, logger),
			auth,
			container.Health,
			logger,
		)

		db := container.DB
		cliApp = &cli.App{
			BillingService: container.BillingService,
			APIServer:      server,
			Migrate: func(ctx context.Context) ([]string, error) {
				return migrations.Run(ctx, db)
			},
		}
	}

	cli.SetApp(cliApp)
	cli.AddCommand(cliBilling.Cmd)

	cli.Execute(ctx)
}
