package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Hibiki/internal/hibiki/app"
	"github.com/bdobrica/Hibiki/internal/hibiki/service"
)

func execCmd() *cobra.Command {
	var (
		userID      string
		sessionID   string
		connectWait time.Duration
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "exec <command> [args...]",
		Short: "Run one command against the provider bots and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(false)
			if err != nil {
				return err
			}
			// The HTTP API is not needed for a single command.
			cfg.HTTPAddr = ""

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				a.Close()
				return err
			}
			defer a.Close()

			if err := waitConnected(ctx, a, connectWait); err != nil {
				return err
			}

			exec, err := a.Service().Execute(ctx, service.Request{
				SessionID: sessionID,
				UserID:    userID,
				Input:     strings.Join(args, " "),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(exec)
			}
			for _, m := range exec.Result.Messages {
				if m.Body != "" {
					fmt.Fprintln(out, m.Body)
				}
				for _, att := range m.Attachments {
					fmt.Fprintf(out, "[%s %s, %d bytes]\n", att.Kind, att.MIME, att.Size)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli", "user ID the command is attributed to")
	cmd.Flags().StringVar(&sessionID, "session", "", "session ID (generated when empty)")
	cmd.Flags().DurationVar(&connectWait, "connect-timeout", 30*time.Second, "how long to wait for the first Matrix sync")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full execution as JSON")
	return cmd
}

func waitConnected(ctx context.Context, a *app.App, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for !a.Connected() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("matrix not connected after %s", timeout)
		case <-ticker.C:
		}
	}
	return nil
}
