package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/isup/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration file without starting the daemon.

Environment overrides (ISUP_*) and defaults are applied exactly as the daemon
would apply them. With --print the effective configuration is written as YAML.

Examples:
  isupd validate -c /etc/isupd/config.yml
  isupd validate -c config.yml --print`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(configFile, validatePrint, cmd.OutOrStdout())
	},
}

var validatePrint bool

func init() {
	validateCmd.Flags().BoolVar(&validatePrint, "print", false,
		"print the effective configuration")
}

func runValidate(path string, print bool, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	if print {
		data, err := config.Dump(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		_, err = out.Write(data)
		return err
	}

	fmt.Fprintf(out, "VALID: node %s -> %s, %d linkset(s), %d timer(s)\n",
		cfg.Node.OPC, cfg.Node.DPC, len(cfg.Linksets), len(cfg.Timers))
	return nil
}
