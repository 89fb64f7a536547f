package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dropwatch/internal/daemonctl"
	"dropwatch/internal/daemonrun"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dropwatch daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			socket := ""
			if ctx.socketFlag != nil {
				socket = *ctx.socketFlag
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
				SocketPath:  socket,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in every log line")
	return cmd
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the dropwatch daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			state, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, ctx.launchOptions(startLogLevel), 10*time.Second)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			switch state {
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			default:
				fmt.Fprintln(stdout, "Daemon started")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override the configured log level")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the dropwatch daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return stopDaemon(cmd, ctx)
		},
	}

	var restartLogLevel string
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the dropwatch daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := stopDaemon(cmd, ctx); err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			if _, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, ctx.launchOptions(restartLogLevel), 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon restarted")
			return nil
		},
	}
	restartCmd.Flags().StringVar(&restartLogLevel, "log-level", "", "Override the configured log level")

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health and record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			return emit(cmd, statusJSON, snap.Status, func(out io.Writer) error {
				renderStatus(out, snap, shouldColorize(out))
				return nil
			})
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func (c *commandContext) launchOptions(logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{ConfigPath: c.configPath(), LogLevel: logLevel}
	if c.socketFlag != nil {
		opts.SocketPath = *c.socketFlag
	}
	return opts
}

func stopDaemon(cmd *cobra.Command, ctx *commandContext) error {
	stdout := cmd.OutOrStdout()
	result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
	if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		fmt.Fprintln(stdout, "Daemon is not running")
		return nil
	}
	if err != nil {
		return err
	}
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(stdout, "Daemon did not exit in time; killed pid %d\n", result.PID)
	}
	fmt.Fprintln(stdout, "Daemon stopped")
	return nil
}

func renderStatus(out io.Writer, snap *daemonctl.Snapshot, colorize bool) {
	status := snap.Status
	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if status.Running {
		detail := fmt.Sprintf("pid %d, %s mode", status.PID, status.Mode)
		if since := sinceLabel(status.StartedAt); since != "" {
			detail += ", " + since
		}
		fmt.Fprintln(out, renderStatusLine("Dropwatch", statusOK, detail, colorize))
		fmt.Fprintln(out, renderStatusLine("Queue depth", statusInfo, fmt.Sprintf("%d", status.QueueDepth), colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Dropwatch", statusWarn, "Not running (run `dropwatch start`)", colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DBPath, colorize))
	if sweep := status.LastSweep; sweep != nil {
		detail := fmt.Sprintf("%d timed out, %d records and %d files removed %s",
			sweep.TimedOut, sweep.RecordsDeleted, sweep.FilesDeleted, relativeTime(sweep.FinishedAt))
		kind := statusOK
		if sweep.Errors > 0 {
			kind = statusWarn
			detail += fmt.Sprintf(" (%d errors)", sweep.Errors)
		}
		fmt.Fprintln(out, renderStatusLine("Last sweep", kind, detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	if len(status.Checks) == 0 {
		fmt.Fprintln(out, renderStatusLine("Checks", statusInfo, "none", colorize))
	}
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	fmt.Fprintln(out)

	for _, line := range renderSectionHeader("Records", colorize) {
		fmt.Fprintln(out, line)
	}
	if snap.Offline {
		fmt.Fprintln(out, renderStatusLine("Source", statusInfo, "read from the store (daemon offline)", colorize))
	}
	fmt.Fprint(out, renderTable([]column{
		{header: "Status"},
		{header: "Count", align: alignRight},
	}, countRows(status.Counts)))
}
