package cmd

import (
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/isup/internal/config"
	"firestige.xyz/isup/internal/daemon"
)

const stopTimeout = 10 * time.Second

// signaler delivers a signal to the process recorded in a PID file.
type signaler func(pidFile string, sig syscall.Signal) error

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Long: `Send SIGTERM to the daemon recorded in the PID file and wait for it to
remove the file. The daemon stops its linksets, cancels outstanding timers and
flushes reporters before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		if err := daemon.StopProcess(path, stopTimeout); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the daemon log configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePIDFile()
		if err != nil {
			return err
		}
		return runReload(path, daemon.Signal, cmd.OutOrStdout())
	},
}

func runReload(path string, send signaler, out io.Writer) error {
	if err := send(path, syscall.SIGHUP); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	fmt.Fprintln(out, "reload signal sent")
	return nil
}

// resolvePIDFile prefers --pidfile, then control.pid_file from the config.
func resolvePIDFile() (string, error) {
	if pidFile != "" {
		return pidFile, nil
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return "", fmt.Errorf("no --pidfile and config unreadable: %w", err)
	}
	return cfg.Control.PIDFile, nil
}
