// Command fieldsync-mcp serves the job sync tools over MCP.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/fieldsync/internal/app"
	"github.com/felixgeelhaar/fieldsync/internal/mcp"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("fieldsync-mcp exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()
	return mcp.Run(ctx, cfg, container, logger)
}
