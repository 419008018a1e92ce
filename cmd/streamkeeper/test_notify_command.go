package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"streamkeeper/internal/config"
	"streamkeeper/internal/daemonctl"
	"streamkeeper/internal/ipc"
	"streamkeeper/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification (through the daemon when it is running)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return fmt.Errorf("test notification: %w", err)
				}
				printNotifyResult(out, resp.Sent, resp.Message)
				return nil
			})
			if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				return err
			}
			cfg, cfgErr := ctx.ensureConfig()
			if cfgErr != nil {
				return cfgErr
			}
			sent, message, err := sendDirectNotification(cmd.Context(), cfg, notifications.NewService(cfg))
			if err != nil {
				return err
			}
			printNotifyResult(out, sent, message+" (daemon not running; sent directly)")
			return nil
		},
	}
}

func sendDirectNotification(ctx context.Context, cfg *config.Config, svc notifications.Service) (bool, string, error) {
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := svc.TestNotification(ctx); err != nil {
		return false, "", fmt.Errorf("test notification: %w", err)
	}
	return true, "test notification sent", nil
}

func printNotifyResult(w io.Writer, sent bool, message string) {
	switch {
	case message != "":
		fmt.Fprintln(w, message)
	case sent:
		fmt.Fprintln(w, "Test notification sent")
	default:
		fmt.Fprintln(w, "Notification not sent")
	}
}
