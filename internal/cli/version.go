package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is stamped by the build via -ldflags.
var version = "0.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the opgate version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("opgate %s\n", version)
	},
}
