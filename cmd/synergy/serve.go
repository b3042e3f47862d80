package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/synergy/internal/app"
	"github.com/vovakirdan/synergy/internal/config"
	"github.com/vovakirdan/synergy/internal/log"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New("info")

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Str("addr", cfg.Addr).Msg("starting synergy relay")

			application, err := app.New(&cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}
			if err := application.Run(cmd.Context()); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to config file (default ./synergy.yaml)")
	f.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&overrides.IdentityURL, "identity-url", "", "base URL of the identity service")
	f.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&overrides.StorePath, "store", "", "sqlite file for room topology persistence")
	f.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	return cmd
}
