package mcp

import (
	"io"
	"log/slog"

	"github.com/felixgeelhaar/fieldsync/internal/app"
	mcpinternal "github.com/felixgeelhaar/fieldsync/internal/mcp"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long:  "Start an MCP server exposing job sync tools. Runs the outbox relay in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := newServerLogger(cmd.OutOrStdout(), cfg.IsDevelopment())

		container, err := app.NewContainer(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer container.Close()

		return mcpinternal.Run(ctx, cfg, container, logger)
	},
}

func newServerLogger(out io.Writer, debug bool) *slog.Logger {
	level := "info"
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{Level: level, Output: out, Service: "fieldsync-mcp"})
}
