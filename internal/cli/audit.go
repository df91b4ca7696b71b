package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/audit"
	"github.com/opgate/opgate/internal/config"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the audit log",
	Long: "Walks the JSONL audit log and validates that every record's prev_hash\n" +
		"matches the SHA-256 of the previous line. Without an explicit path, the\n" +
		"configured audit log is verified. Exits 0 if intact, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: runAuditVerify,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		path = cfg.Audit.LogPath
	}

	result := audit.Verify(path)
	if result.Valid {
		fmt.Printf("OK: %d records verified\n", result.Lines)
		return nil
	}
	if result.ErrorLine > 0 {
		fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	} else {
		fmt.Fprintf(os.Stderr, "FAILED: %s\n", result.Error)
	}
	os.Exit(1)
	return nil
}
