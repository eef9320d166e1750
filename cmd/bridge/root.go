package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-bridge/config"
)

// cli carries state resolved by the root command for its subcommands.
type cli struct {
	configPath string
	cfg        config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:           "bridge",
		Short:         "Coordination bridge for multi-agent systems",
		Long:          "bridge runs DCBFT consensus, four-tier memory, objective orchestration and a role-based worker pool behind a websocket and HTTP API.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// A missing .env is normal.
			_ = godotenv.Load()

			cfg, err := config.Load(c.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.LogLevel}))
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ./bridge.yaml if present)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(c),
		newStatusCmd(c),
		newOpsCmd(),
	)
	return rootCmd
}
