package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/model"
)

var (
	checkArgs    []string
	checkConfirm bool
	checkJSON    bool
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringArrayVar(&checkArgs, "arg", nil, "Operation argument as key=value (repeatable)")
	checkCmd.Flags().BoolVar(&checkConfirm, "confirm", false, "Assume the request would carry confirm=true")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the full response envelope as JSON")
}

var checkCmd = &cobra.Command{
	Use:   "check <operation>",
	Short: "Dry-run a request without executing it",
	Long: "Runs policy lookup, schema validation, path confinement and the\n" +
		"confirmation gate, then stops. Nothing is spawned and nothing mutates.",
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := model.Request{
		Operation: args[0],
		Confirm:   checkConfirm,
	}
	req.Arguments, err = parseArguments(a, args[0], checkArgs)
	if err != nil {
		return err
	}

	resp := a.dispatcher.Check(context.Background(), req)
	printResponse(resp, checkJSON)
	if !resp.OK {
		a.Close()
		os.Exit(exitBlocked)
	}
	return nil
}
