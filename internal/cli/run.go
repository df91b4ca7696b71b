package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/model"
	"github.com/opgate/opgate/internal/policy"
)

// Exit code for requests the policy refused, distinct from process failure.
const exitBlocked = 77

var (
	runArgs    []string
	runConfirm bool
	runJSON    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVar(&runArgs, "arg", nil, "Operation argument as key=value (repeatable)")
	runCmd.Flags().BoolVar(&runConfirm, "confirm", false, "Confirm a state-changing operation")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full response envelope as JSON")
}

var runCmd = &cobra.Command{
	Use:   "run <operation>",
	Short: "Invoke one operation through the full pipeline",
	Long: "Validates, confines, gates and executes a single operation exactly as\n" +
		"the HTTP and MCP transports would. Exits 0 on success, 77 when the\n" +
		"policy refuses the request, or the subprocess exit code on failure.",
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	req := model.Request{
		Operation: args[0],
		Confirm:   runConfirm,
	}
	req.Arguments, err = parseArguments(a, args[0], runArgs)
	if err != nil {
		return err
	}

	resp := a.dispatcher.Dispatch(context.Background(), req)
	printResponse(resp, runJSON)
	a.Close()
	os.Exit(exitCodeFor(resp))
	return nil
}

// parseArguments converts key=value flags into typed argument values using
// the operation's declared specs. Unknown operations and undeclared keys
// pass through as strings; the pipeline reports them properly.
func parseArguments(a *app, operation string, pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	def, _ := a.dispatcher.Registry().Lookup(operation)

	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		out[key] = coerce(def.Args[key], val)
	}
	return out, nil
}

func coerce(spec policy.ArgSpec, val string) any {
	switch spec.Type {
	case policy.TypeInt:
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			return n
		}
	case policy.TypeNumber:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	case policy.TypeBool:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return val
}

func printResponse(resp model.Response, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(resp)
		return
	}

	if resp.NeedConfirm {
		fmt.Fprintf(os.Stderr, "REFUSED: %s\n", resp.Summary)
		fmt.Fprintln(os.Stderr, "Re-run with --confirm to proceed.")
		return
	}
	if !resp.OK {
		fmt.Fprintf(os.Stderr, "FAILED (%s): %s\n", resp.Error.Kind, resp.Error.Message)
	} else {
		fmt.Fprintf(os.Stderr, "%s (%d ms)\n", resp.Summary, resp.Metrics.ElapsedMs)
	}
	if resp.Stdout != "" {
		fmt.Print(resp.Stdout)
	}
	if resp.Stderr != "" {
		fmt.Fprint(os.Stderr, resp.Stderr)
	}
}

func exitCodeFor(resp model.Response) int {
	if resp.OK {
		return 0
	}
	if resp.Error == nil {
		return 1
	}
	switch resp.Error.Kind {
	case model.ErrUnknownOperation, model.ErrValidation, model.ErrSecurityViolation, model.ErrConfirmationRequired:
		return exitBlocked
	case model.ErrExecutionNonZeroExit:
		if resp.Metrics.ExitCode > 0 {
			return resp.Metrics.ExitCode
		}
		return 1
	default:
		return 1
	}
}
