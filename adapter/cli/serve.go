package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serveOutbox     bool
	servePoll       bool
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API until interrupted.

By default the outbox processor and, when a payment provider is configured,
the reconcile poller run in the same process. Disable them when a separate
worker is deployed.

Examples:
  lessonpass serve
  lessonpass serve --outbox=false --poll=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Server == nil {
			return ErrNotInitialized
		}
		ctx := cmd.Context()
		log := Logger()

		if serveOutbox && app.Outbox != nil {
			if err := app.Outbox.Start(ctx); err != nil {
				return err
			}
			defer app.Outbox.Stop()
		}
		if servePoll && app.Poller != nil {
			go func() {
				if err := app.Poller.Run(ctx); err != nil {
					log.Error("reconcile poller exited", "error", err)
				}
			}()
			defer app.Poller.Stop()
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- app.Server.Start()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.Server.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveOutbox, "outbox", true, "run the outbox processor in-process")
	serveCmd.Flags().BoolVar(&servePoll, "poll", true, "run the payment reconcile poller in-process")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	rootCmd.AddCommand(serveCmd)
}
