// Package cli implements the opgate command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "opgate",
	Short: "Policy-governed execution gateway",
	Long: "Exposes a fixed whitelist of system operations to untrusted callers.\n" +
		"Every request is validated against a declarative policy, confined to\n" +
		"allowed filesystem roots, gated behind explicit confirmation when it\n" +
		"mutates state, executed under resource limits, and audit-logged.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ./opgate.yaml, /etc/opgate/opgate.yaml)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
