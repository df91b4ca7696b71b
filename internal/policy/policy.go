package policy

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidDefinition is wrapped by every definition-level load failure.
// Any occurrence aborts startup: a policy that cannot be fully understood
// must not be partially enforced.
var ErrInvalidDefinition = errors.New("invalid operation definition")

// DefaultTimeout applies when a definition omits its timeout.
const DefaultTimeout = 30 * time.Second

// validName restricts operation names to a shell-safe identifier charset.
var validName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// placeholderRe matches {arg} placeholders inside command template elements.
var placeholderRe = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Argument value types accepted by definitions.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeNumber = "number"
	TypeBool   = "bool"
)

// ArgSpec declares one argument of an operation. The argument set is
// closed-world: callers may only supply keys that appear here.
type ArgSpec struct {
	Type      string   `yaml:"type"`
	Required  bool     `yaml:"required"`
	Pattern   string   `yaml:"pattern"`
	Glob      string   `yaml:"glob"`
	Enum      []string `yaml:"enum"`
	MaxLen    int      `yaml:"max_len"`
	Path      bool     `yaml:"path"`
	Sensitive bool     `yaml:"sensitive"`

	compiledPattern *regexp.Regexp
}

// PatternRegexp returns the compiled pattern, or nil when none is declared.
// Loaded definitions carry the regexp compiled once at load time; specs
// constructed in code compile on first use.
func (a ArgSpec) PatternRegexp() *regexp.Regexp {
	if a.compiledPattern != nil {
		return a.compiledPattern
	}
	if a.Pattern == "" {
		return nil
	}
	return regexp.MustCompile(a.Pattern)
}

// Notification event names a definition may subscribe to.
const (
	NotifySuccess = "success"
	NotifyFailure = "failure"
)

// OperationDefinition is one whitelisted capability. Immutable after load;
// Registry.Lookup hands out copies, never shared mutable state.
type OperationDefinition struct {
	Name            string
	Description     string
	Command         []string
	Args            map[string]ArgSpec
	Mutates         bool
	RequiresConfirm bool
	Timeout         time.Duration
	Enabled         bool
	NotifyOn        []string
}

// PathArgs returns the names of arguments marked path-like, in sorted-stable
// map iteration order handled by the caller.
func (d OperationDefinition) PathArgs() []string {
	var names []string
	for name, spec := range d.Args {
		if spec.Path {
			names = append(names, name)
		}
	}
	return names
}

// SensitiveArgs returns the names of arguments whose values must never be
// recorded, even hashed.
func (d OperationDefinition) SensitiveArgs() []string {
	var names []string
	for name, spec := range d.Args {
		if spec.Sensitive {
			names = append(names, name)
		}
	}
	return names
}

// NotifiesOn reports whether the definition subscribes to the given event.
func (d OperationDefinition) NotifiesOn(event string) bool {
	for _, e := range d.NotifyOn {
		if e == event {
			return true
		}
	}
	return false
}

// clone returns a definition sharing no mutable state with the receiver.
// Compiled regexps are shared; they are safe for concurrent use.
func (d OperationDefinition) clone() OperationDefinition {
	out := d
	out.Command = append([]string(nil), d.Command...)
	out.NotifyOn = append([]string(nil), d.NotifyOn...)
	out.Args = make(map[string]ArgSpec, len(d.Args))
	for name, spec := range d.Args {
		spec.Enum = append([]string(nil), spec.Enum...)
		out.Args[name] = spec
	}
	return out
}

// validate checks structural soundness of a single definition.
// Returned errors wrap ErrInvalidDefinition.
func (d OperationDefinition) validate() error {
	if !validName.MatchString(d.Name) {
		return fmt.Errorf("%w: name %q must match %s", ErrInvalidDefinition, d.Name, validName)
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("%w: %s: command template is empty", ErrInvalidDefinition, d.Name)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidDefinition, d.Name)
	}

	for name, spec := range d.Args {
		if !placeholderNameOK(name) {
			return fmt.Errorf("%w: %s: argument name %q is not a valid identifier", ErrInvalidDefinition, d.Name, name)
		}
		switch spec.Type {
		case TypeString, TypeInt, TypeNumber, TypeBool:
		default:
			return fmt.Errorf("%w: %s: argument %q has unknown type %q", ErrInvalidDefinition, d.Name, name, spec.Type)
		}
		if spec.Pattern != "" {
			if _, err := regexp.Compile(spec.Pattern); err != nil {
				return fmt.Errorf("%w: %s: argument %q pattern: %v", ErrInvalidDefinition, d.Name, name, err)
			}
		}
		if spec.Glob != "" && !doublestar.ValidatePattern(spec.Glob) {
			return fmt.Errorf("%w: %s: argument %q has invalid glob %q", ErrInvalidDefinition, d.Name, name, spec.Glob)
		}
		if len(spec.Enum) > 0 && spec.Type != TypeString {
			return fmt.Errorf("%w: %s: argument %q: enum is only valid for string arguments", ErrInvalidDefinition, d.Name, name)
		}
		if (spec.Pattern != "" || spec.Glob != "" || spec.MaxLen > 0) && spec.Type != TypeString {
			return fmt.Errorf("%w: %s: argument %q: pattern/glob/max_len are only valid for string arguments", ErrInvalidDefinition, d.Name, name)
		}
		if spec.Path && spec.Type != TypeString {
			return fmt.Errorf("%w: %s: argument %q: path arguments must be strings", ErrInvalidDefinition, d.Name, name)
		}
	}

	// Placeholders must reference declared, required arguments so command
	// expansion is total once validation has passed.
	for _, elem := range d.Command {
		for _, m := range placeholderRe.FindAllStringSubmatch(elem, -1) {
			arg := m[1]
			spec, ok := d.Args[arg]
			if !ok {
				return fmt.Errorf("%w: %s: command references undeclared argument %q", ErrInvalidDefinition, d.Name, arg)
			}
			if !spec.Required {
				return fmt.Errorf("%w: %s: command references optional argument %q (placeholder arguments must be required)", ErrInvalidDefinition, d.Name, arg)
			}
		}
	}

	for _, e := range d.NotifyOn {
		if e != NotifySuccess && e != NotifyFailure {
			return fmt.Errorf("%w: %s: unknown notify event %q", ErrInvalidDefinition, d.Name, e)
		}
	}

	return nil
}

func placeholderNameOK(name string) bool {
	return placeholderRe.MatchString("{" + name + "}")
}
