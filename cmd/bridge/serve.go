package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-bridge/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var healthInterval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket/HTTP API and the gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			b := wire(c.cfg, c.logger)
			defer b.Close()

			srv := server.New(b, server.WithLogger(c.logger))
			health := server.NewHealth(b.Memory(), healthInterval, c.logger)

			// Either listener failing stops the other.
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			healthErr := make(chan error, 1)
			go func() {
				err := health.ListenAndServe(ctx, c.cfg.HealthListen)
				cancel()
				healthErr <- err
			}()

			err := srv.ListenAndServe(ctx, c.cfg.Listen)
			cancel()
			if herr := <-healthErr; err == nil {
				err = herr
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&healthInterval, "health-interval", server.DefaultHealthInterval, "how often tier health is refreshed")
	return cmd
}
