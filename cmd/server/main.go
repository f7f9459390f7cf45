package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sociallink/internal/app"
	"sociallink/internal/config"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "sociallink",
		Short: "OAuth session and token lifecycle service for social platforms",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.json", "path to config file")
	rootCmd.AddCommand(serveCmd(), sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service with background maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigchan := make(chan os.Signal, 1)
			signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

			if err := application.Start(ctx); err != nil {
				return fmt.Errorf("failed to start application: %w", err)
			}

			<-sigchan
			logger.Info("shutdown signal received")
			return application.Stop(ctx)
		},
	}
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one housekeeping pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			defer application.DB.Close()

			application.Pool.Start()
			if err := application.Sweeper.SweepOnce(cmd.Context()); err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			application.Pool.Stop()
			return nil
		},
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
