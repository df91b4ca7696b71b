// Package schema validates request arguments against an operation's declared
// argument specs. Validation is pure: it never mutates the request and runs
// every check so the caller sees all violations at once, not just the first.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/opgate/opgate/internal/policy"
)

// Ceilings applied before per-argument checks. They bound work done on
// hostile input, independent of what the definition declares.
const (
	maxArguments     = 256
	maxContainerSize = 256
	maxDepth         = 4
	defaultMaxLen    = 4096
)

// ValidationError aggregates every violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: %d violation(s): %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

// Validate checks args against the definition's argument specs. A nil return
// means every declared constraint holds and no undeclared keys are present.
func Validate(def policy.OperationDefinition, args map[string]any) error {
	var v []string

	if len(args) > maxArguments {
		return &ValidationError{Violations: []string{
			fmt.Sprintf("too many arguments: %d (limit %d)", len(args), maxArguments),
		}}
	}

	// Closed world: every supplied key must be declared.
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := def.Args[k]; !ok {
			v = append(v, fmt.Sprintf("unknown argument %q", k))
		}
	}

	// Required arguments must be present.
	declared := make([]string, 0, len(def.Args))
	for name := range def.Args {
		declared = append(declared, name)
	}
	sort.Strings(declared)
	for _, name := range declared {
		spec := def.Args[name]
		val, ok := args[name]
		if !ok {
			if spec.Required {
				v = append(v, fmt.Sprintf("missing required argument %q", name))
			}
			continue
		}
		v = append(v, checkValue(name, spec, val)...)
	}

	if len(v) > 0 {
		return &ValidationError{Violations: v}
	}
	return nil
}

func checkValue(name string, spec policy.ArgSpec, val any) []string {
	if msg := checkShape(name, val, 0); msg != "" {
		return []string{msg}
	}

	switch spec.Type {
	case policy.TypeString:
		s, ok := val.(string)
		if !ok {
			return []string{fmt.Sprintf("argument %q: expected string, got %T", name, val)}
		}
		return checkString(name, spec, s)
	case policy.TypeInt:
		switch n := val.(type) {
		case int, int64:
			return nil
		case float64:
			if n != math.Trunc(n) {
				return []string{fmt.Sprintf("argument %q: expected integer, got %v", name, n)}
			}
			return nil
		default:
			return []string{fmt.Sprintf("argument %q: expected integer, got %T", name, val)}
		}
	case policy.TypeNumber:
		switch val.(type) {
		case int, int64, float64:
			return nil
		default:
			return []string{fmt.Sprintf("argument %q: expected number, got %T", name, val)}
		}
	case policy.TypeBool:
		if _, ok := val.(bool); !ok {
			return []string{fmt.Sprintf("argument %q: expected bool, got %T", name, val)}
		}
		return nil
	}
	return []string{fmt.Sprintf("argument %q: unsupported type %q", name, spec.Type)}
}

func checkString(name string, spec policy.ArgSpec, s string) []string {
	var v []string

	maxLen := spec.MaxLen
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	if len(s) > maxLen {
		v = append(v, fmt.Sprintf("argument %q: length %d exceeds limit %d", name, len(s), maxLen))
	}
	if strings.ContainsRune(s, 0) {
		v = append(v, fmt.Sprintf("argument %q: contains NUL byte", name))
	}
	if re := spec.PatternRegexp(); re != nil && !re.MatchString(s) {
		v = append(v, fmt.Sprintf("argument %q: does not match pattern %s", name, spec.Pattern))
	}
	if spec.Glob != "" {
		ok, err := doublestar.Match(spec.Glob, s)
		if err != nil || !ok {
			v = append(v, fmt.Sprintf("argument %q: does not match glob %s", name, spec.Glob))
		}
	}
	if len(spec.Enum) > 0 {
		found := false
		for _, e := range spec.Enum {
			if s == e {
				found = true
				break
			}
		}
		if !found {
			v = append(v, fmt.Sprintf("argument %q: not one of %v", name, spec.Enum))
		}
	}
	return v
}

// checkShape rejects container values and bounds nesting so that a hostile
// payload cannot force unbounded traversal. Declared argument types are all
// scalar, so any container is a violation, but nesting is still walked to
// report the ceiling breach distinctly.
func checkShape(name string, val any, depth int) string {
	if depth > maxDepth {
		return fmt.Sprintf("argument %q: nesting exceeds depth limit %d", name, maxDepth)
	}
	switch c := val.(type) {
	case map[string]any:
		if len(c) > maxContainerSize {
			return fmt.Sprintf("argument %q: container size %d exceeds limit %d", name, len(c), maxContainerSize)
		}
		for _, inner := range c {
			if msg := checkShape(name, inner, depth+1); msg != "" {
				return msg
			}
		}
		return fmt.Sprintf("argument %q: expected scalar, got object", name)
	case []any:
		if len(c) > maxContainerSize {
			return fmt.Sprintf("argument %q: container size %d exceeds limit %d", name, len(c), maxContainerSize)
		}
		for _, inner := range c {
			if msg := checkShape(name, inner, depth+1); msg != "" {
				return msg
			}
		}
		return fmt.Sprintf("argument %q: expected scalar, got array", name)
	}
	return ""
}

// StringValues renders validated arguments into their command-line string
// forms. Call only after Validate has passed.
func StringValues(def policy.OperationDefinition, args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for name, val := range args {
		if _, ok := def.Args[name]; !ok {
			continue
		}
		out[name] = stringValue(val)
	}
	return out
}

func stringValue(val any) string {
	switch n := val.(type) {
	case string:
		return n
	case bool:
		return strconv.FormatBool(n)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
