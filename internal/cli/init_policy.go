package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/policy"
)

var initPolicyForce bool

func init() {
	rootCmd.AddCommand(initPolicyCmd)
	initPolicyCmd.Flags().BoolVar(&initPolicyForce, "force", false, "Overwrite an existing file")
}

var initPolicyCmd = &cobra.Command{
	Use:   "init-policy [path]",
	Short: "Write a commented starter policy",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInitPolicy,
}

func runInitPolicy(cmd *cobra.Command, args []string) error {
	path := "policy.yaml"
	if len(args) == 1 {
		path = args[0]
	}

	if !initPolicyForce {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.WriteFile(path, []byte(policy.DefaultPolicyYAML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
