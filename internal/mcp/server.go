// Package mcp runs the fieldsync MCP server on top of an app container.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/felixgeelhaar/fieldsync/adapter/cli"
	mcptools "github.com/felixgeelhaar/fieldsync/adapter/mcp"
	"github.com/felixgeelhaar/fieldsync/internal/app"
	"github.com/felixgeelhaar/fieldsync/pkg/config"
	mcpgo "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/middleware"
)

// Run starts the outbox relay and serves MCP over HTTP until ctx ends.
func Run(ctx context.Context, cfg *config.Config, container *app.Container, logger *slog.Logger) error {
	if container == nil {
		return errors.New("container is required")
	}
	if err := container.StartEvents(ctx); err != nil {
		return err
	}
	err := Serve(ctx, cfg, cli.NewApp(container.Engine, container, container.Health), logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Serve exposes the job sync tools, resources and prompts and blocks until
// ctx is canceled.
func Serve(ctx context.Context, cfg *config.Config, cliApp *cli.App, logger *slog.Logger) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv, err := NewServer(cliApp, logger)
	if err != nil {
		return err
	}

	logger.Info("mcp server listening", "addr", cfg.MCPAddr)
	return mcpgo.ServeHTTPWithMiddleware(ctx, srv, cfg.MCPAddr, nil,
		mcpgo.WithMiddleware(middlewares(cfg.MCPAuthToken, logger)...))
}

// NewServer builds the MCP server. Tools are required; resources and
// prompts that fail to register are logged and skipped.
func NewServer(cliApp *cli.App, logger *slog.Logger) (*mcpgo.Server, error) {
	if cliApp == nil {
		return nil, errors.New("CLI app is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	srv := mcpgo.NewServer(mcpgo.ServerInfo{
		Name:         "fieldsync-mcp",
		Version:      cli.Version,
		Capabilities: mcpgo.Capabilities{Tools: true, Resources: true, Prompts: true},
	})

	deps := mcptools.ToolDependencies{App: cliApp}
	if err := mcptools.RegisterCLITools(srv, deps); err != nil {
		return nil, err
	}
	if err := mcptools.RegisterResources(srv, deps); err != nil {
		logger.Warn("mcp resources unavailable", "error", err)
	}
	if err := mcptools.RegisterPrompts(srv, deps); err != nil {
		logger.Warn("mcp prompts unavailable", "error", err)
	}
	return srv, nil
}

// middlewares returns the default stack, behind bearer auth when a token
// is configured.
func middlewares(token string, logger *slog.Logger) []middleware.Middleware {
	log := slogAdapter{logger}
	stack := middleware.DefaultStack(log)
	if token == "" {
		logger.Warn("MCP auth token not set; requests will be unauthenticated")
		return stack
	}
	auth := middleware.BearerTokenAuthenticator(middleware.StaticTokens(map[string]*middleware.Identity{
		token: {ID: "mcp", Name: "mcp"},
	}))
	return append([]middleware.Middleware{middleware.Auth(auth, middleware.WithAuthLogger(log))}, stack...)
}

// slogAdapter satisfies the middleware logger with slog.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Debug(msg string, f ...middleware.Field) { a.l.Debug(msg, fieldsToArgs(f)...) }
func (a slogAdapter) Info(msg string, f ...middleware.Field)  { a.l.Info(msg, fieldsToArgs(f)...) }
func (a slogAdapter) Warn(msg string, f ...middleware.Field)  { a.l.Warn(msg, fieldsToArgs(f)...) }
func (a slogAdapter) Error(msg string, f ...middleware.Field) { a.l.Error(msg, fieldsToArgs(f)...) }

func fieldsToArgs(fields []middleware.Field) []any {
	args := make([]any, 0, 2*len(fields))
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}
