// Package cmd implements the isupd CLI using cobra.
package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/isup/internal/daemon"
)

var (
	// Global flags
	configFile string
	pidFile    string
)

var rootCmd = &cobra.Command{
	Use:   "isupd",
	Short: "isupd - ISUP over MTP3 signalling engine",
	Long: `isupd runs an ISUP (ITU-T Q.763/Q.764) protocol engine on top of MTP3.

It encodes and decodes ISUP messages, supervises outstanding requests with
Q.764 timers, exchanges frames over M2PA/TCP signalling links and reports
every inbound message and timer expiry to console or Kafka.`,
	Version:       daemon.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/isupd/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
}
