package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and relay sync events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		if a.API == nil {
			return errors.New("HTTP API not configured")
		}
		ctx := cmd.Context()

		if a.Events != nil {
			if err := a.Events.StartEvents(ctx); err != nil {
				return errors.Wrap(err, "failed to start event relay")
			}
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- a.API.Start()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return errors.Wrap(err, "HTTP API stopped")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.API.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "HTTP API shutdown")
		}
		a.flush(shutdownCtx)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
