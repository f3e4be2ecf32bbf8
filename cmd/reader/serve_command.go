package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/listenupapp/listenup-reader/internal/di"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reader HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			injector := di.NewContainer(cfg)
			server, err := di.Serve(injector)
			if err != nil {
				shutdown(injector)
				return fmt.Errorf("start server: %w", err)
			}
			log := di.Logger(injector)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var serveErr error
			select {
			case <-sigCtx.Done():
			case serveErr = <-server.Errors:
			}

			log.Info("Shutting down server gracefully...")
			shutdown(injector)
			log.Info("Server stopped")
			return serveErr
		},
	}
}
