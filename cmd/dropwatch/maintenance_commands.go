package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dropwatch/internal/ipc"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Apply the timeout and retention rules now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Sweep()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				result := resp.Result
				if result.Skipped {
					fmt.Fprintln(out, "A sweep is already running")
					return nil
				}
				fmt.Fprintf(out, "Sweep finished in %s: %d timed out, %d records removed, %d failed files removed\n",
					(time.Duration(result.DurationMS) * time.Millisecond).String(),
					result.TimedOut, result.RecordsDeleted, result.FilesDeleted)
				if result.Errors > 0 {
					return fmt.Errorf("sweep finished with %d errors; see the daemon log", result.Errors)
				}
				return nil
			})
		},
	}
}

func newResyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Ask the daemon for an immediate full snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Resync(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Resync requested")
				return nil
			})
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TestNotification()
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("missing notification response")
				}
				switch {
				case resp.Message != "":
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				case resp.Sent:
					fmt.Fprintln(cmd.OutOrStdout(), "Test notification sent")
				default:
					fmt.Fprintln(cmd.OutOrStdout(), "Notification not sent")
				}
				return nil
			})
		},
	}
}
