package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"streamkeeper/internal/daemon"
	"streamkeeper/internal/daemonctl"
	"streamkeeper/internal/daemonrun"
	"streamkeeper/internal/devices"
	"streamkeeper/internal/orchestrator"
)

const (
	startWaitTimeout = 30 * time.Second
	stopGracePeriod  = 45 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var foreground bool
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the streamkeeper daemon",
		Long: "Start the daemon in the background and wait until it answers.\n\n" +
			"Exit codes: 2 prerequisite missing, 3 already running, 4 no devices found\n" +
			"(the daemon keeps polling), 5 relay unreachable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if foreground {
				return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: ctx.logLevel(), Console: true})
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), cfg, exe, ctx.launchOptions(), startWaitTimeout)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.State == daemonctl.StartStateAlreadyRunning {
				return fmt.Errorf("%w (pid %d, socket %s)", orchestrator.ErrAlreadyRunning, result.PID, cfg.SocketPath())
			}
			fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			return checkDevicesFound(stdout, result.Status)
		},
	}
	startCmd.Flags().BoolVar(&foreground, "foreground", false, "Run the daemon in this process instead of detaching")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon, its pipelines, and the relay it started",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(cfg, stopGracePeriod)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not exit within %s; killed pid %d\n", stopGracePeriod, result.PID)
				fmt.Fprintln(stdout, "Pipelines left running are adopted by the next start")
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var full bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart all pipelines and the relay (--full restarts the daemon process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if !full {
				resp, err := daemonctl.InPlaceRestart(cfg)
				if err != nil {
					return err
				}
				if !resp.Restarted {
					return fmt.Errorf("restart failed: %s", resp.Message)
				}
				fmt.Fprintln(stdout, "Pipelines and relay restarted")
				return nil
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			result, err := daemonctl.Restart(cmd.Context(), cfg, exe, ctx.launchOptions(), stopGracePeriod, startWaitTimeout)
			if result.WasRunning {
				if result.Stop.ForcedKill {
					fmt.Fprintf(stdout, "Killed unresponsive daemon (pid %d)\n", result.Stop.PID)
				} else {
					fmt.Fprintln(stdout, "Daemon stopped")
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Daemon restarted (pid %d)\n", result.Start.PID)
			return checkDevicesFound(stdout, result.Start.Status)
		},
	}
	restartCmd.Flags().BoolVar(&full, "full", false, "Stop and relaunch the daemon process")

	var jsonOut bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay state, per-stream state, and restart counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report, err := daemonctl.BuildStatus(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			stdout := cmd.OutOrStdout()
			renderStatusReport(stdout, report, shouldColorize(stdout))
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the status report as JSON")

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

// checkDevicesFound turns an empty first discovery into exit code 4 while
// leaving the daemon running.
func checkDevicesFound(w io.Writer, status daemon.Status) error {
	if status.Snapshot == nil || status.Snapshot.DevicesDiscovered > 0 {
		return nil
	}
	fmt.Fprintln(w, "No capture devices found; the daemon keeps polling and starts streams when one appears")
	return devices.ErrNoDevicesFound
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}
