package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibiki/common/version"
	"github.com/bdobrica/Hibiki/internal/hibiki/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to Matrix and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(false)
			if err != nil {
				return err
			}
			logger.Info("starting hibiki", "version", version.Version, "commit", version.GitCommit)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}
