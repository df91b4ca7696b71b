package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the gateway as an MCP stdio server",
	Long: "Speaks the Model Context Protocol on stdin/stdout, exposing the tools\n" +
		"opgate_execute, opgate_check and opgate_operations. Operational logs go\n" +
		"to stderr; stdout carries only protocol frames.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	// Stdout belongs to the protocol; keep the logger quiet on it.
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return mcp.New(a.dispatcher, version).Run(ctx)
}
