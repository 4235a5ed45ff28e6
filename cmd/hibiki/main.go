package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibiki/common/version"
	"github.com/bdobrica/Hibiki/internal/hibiki/config"
	"github.com/bdobrica/Hibiki/internal/hibiki/observability"
)

func main() {
	root := &cobra.Command{
		Use:           "hibiki",
		Short:         "Hibiki: command gateway for chat bots",
		Long:          "Hibiki forwards user commands to provider bots over Matrix and collects their replies.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(execCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(sanitizeCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and installs the default logger. local
// skips the Matrix section for commands that never connect.
func loadConfig(local bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if local {
		err = cfg.ValidateLocal()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, nil, err
	}
	return cfg, observability.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr), nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
