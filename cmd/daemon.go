package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/isup/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the isupd daemon in foreground",
	Long: `Run the isupd daemon process in foreground.

The daemon will:
  1. Load and validate the configuration file
  2. Initialize logging and the metrics endpoint
  3. Configure the engine and open every linkset
  4. Register the enabled reporters
  5. Handle SIGTERM/SIGINT for graceful shutdown and SIGHUP for log reload`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func runDaemon() error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		d.Stop()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	// Blocks until shutdown.
	return d.Run()
}
