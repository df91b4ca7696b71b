package policy

import (
	"fmt"
	"strings"
)

// ExpandCommand substitutes {arg} placeholders in the definition's command
// template with validated argument values. Load-time validation guarantees
// every placeholder names a required argument, so a missing value here means
// the caller skipped validation; that is reported as an error rather than
// silently producing a malformed argv.
func ExpandCommand(def OperationDefinition, args map[string]string) ([]string, error) {
	argv := make([]string, 0, len(def.Command))
	for _, elem := range def.Command {
		matches := placeholderRe.FindAllStringSubmatch(elem, -1)
		for _, m := range matches {
			name := m[1]
			val, ok := args[name]
			if !ok {
				return nil, fmt.Errorf("policy: expand %s: no value for placeholder %q", def.Name, name)
			}
			elem = strings.ReplaceAll(elem, m[0], val)
		}
		argv = append(argv, elem)
	}
	return argv, nil
}
