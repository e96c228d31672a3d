// Package cli implements the fieldsync command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	verbose    bool
	logger     *slog.Logger
)

type startedKey struct{}

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Keep field-service jobs in step with the local schedule",
	Long: `fieldsync pushes schedule windows and crew assignments to the
field-service management system and verifies that every change landed.

A sync problem never undoes the local schedule: commands report the
mismatch as a warning and record it in the sync history.`,
	SilenceUsage: true,
	// Every invocation gets a correlation id that follows it into sync
	// records and outbox metadata.
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		ctx := observability.WithCorrelationID(cmd.Context(), "")
		ctx = context.WithValue(ctx, startedKey{}, time.Now())
		cmd.SetContext(ctx)
		Logger().DebugContext(ctx, "command start", "command", cmd.CommandPath())
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		started, ok := ctx.Value(startedKey{}).(time.Time)
		if !ok {
			return
		}
		Logger().DebugContext(ctx, "command end",
			"command", cmd.CommandPath(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&jsonOutput, "json", false, "print outcomes as JSON")
	flags.BoolVarP(&verbose, "verbose", "v", false, "show each step of an outcome")
}

// Execute runs the command line and exits non-zero on error.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// AddCommand mounts cmd under the root command.
func AddCommand(cmd *cobra.Command) { rootCmd.AddCommand(cmd) }

func SetLogger(l *slog.Logger) { logger = l }

// Logger returns the CLI logger, or slog's default before SetLogger.
func Logger() *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// JSONOutput reports whether --json was given.
func JSONOutput() bool { return jsonOutput }
