package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/fieldsync/adapter/api"
	"github.com/felixgeelhaar/fieldsync/adapter/cli"
	"github.com/felixgeelhaar/fieldsync/adapter/cli/mcp"
	"github.com/felixgeelhaar/fieldsync/internal/app"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Warn("failed to load config, using development mode", "error", err)
		cfg = &config.Config{AppEnv: "development"}
	}

	if cfg.IsDevelopment() && os.Getenv("FIELDSYNC_LOG_LEVEL") == "" {
		logger = observability.NewLogger(observability.LogConfig{Level: "debug", Service: "fieldsync", Version: "dev"})
	}
	cli.SetLogger(logger)

	var cliApp *cli.App
	metrics := observability.NewInMemoryMetrics()
	container, err := app.NewContainer(ctx, cfg, logger, app.WithMetrics(metrics))
	if err != nil {
		if cfg.IsDevelopment() {
			// version and help still work without a database.
			logger.Warn("failed to initialize container, running in limited mode", "error", err)
		} else {
			logger.Error("failed to initialize container", "error", err)
			os.Exit(1)
		}
	} else {
		defer container.Close()

		cliApp = cli.NewApp(container.Engine, container, container.Health)

		serverCfg := api.DefaultServerConfig()
		serverCfg.Addr = cfg.APIAddr
		handler := api.NewJobHandler(container.Engine, logger)
		cliApp.SetAPI(api.NewServer(serverCfg, handler, container.Health, logger).ExposeMetrics(metrics))
	}

	cli.SetApp(cliApp)
	cli.AddCommand(mcp.Cmd)

	cli.Execute(ctx)
}
