package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadWarning reports a non-fatal load observation, such as a later source
// overriding an earlier definition.
type LoadWarning struct {
	Source  string
	Name    string
	Message string
}

func (w LoadWarning) String() string {
	return fmt.Sprintf("%s: %s: %s", w.Source, w.Name, w.Message)
}

// rawDefinition is the YAML shape of one operation. Converted into an
// OperationDefinition after defaulting and validation.
type rawDefinition struct {
	Name            string             `yaml:"name"`
	Description     string             `yaml:"description"`
	Command         []string           `yaml:"command"`
	Args            map[string]ArgSpec `yaml:"args"`
	Mutates         bool               `yaml:"mutates"`
	RequiresConfirm bool               `yaml:"requires_confirm"`
	Timeout         string             `yaml:"timeout"`
	Enabled         *bool              `yaml:"enabled"`
	NotifyOn        []string           `yaml:"notify"`
}

type rawFile struct {
	Operations []rawDefinition `yaml:"operations"`
}

// Load reads the given policy sources in order and builds a Registry.
// Later sources replace earlier same-named definitions wholesale; each
// override is reported as a warning. Any unreadable or invalid source is
// fatal: enforcement never starts from a partially understood policy.
func Load(paths []string) (*Registry, []LoadWarning, error) {
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("policy: no sources configured")
	}

	defs := make(map[string]OperationDefinition)
	origin := make(map[string]string)
	var warnings []LoadWarning

	h := sha256.New()
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("policy: read %s: %w", path, err)
		}
		h.Write(raw)

		var file rawFile
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return nil, nil, fmt.Errorf("policy: parse %s: %w", path, err)
		}

		seen := make(map[string]bool)
		for _, rd := range file.Operations {
			def, err := rd.toDefinition()
			if err != nil {
				return nil, nil, fmt.Errorf("policy: %s: %w", path, err)
			}
			if seen[def.Name] {
				return nil, nil, fmt.Errorf("policy: %s: %w: duplicate definition %q in one source", path, ErrInvalidDefinition, def.Name)
			}
			seen[def.Name] = true

			if prev, ok := origin[def.Name]; ok {
				warnings = append(warnings, LoadWarning{
					Source:  path,
					Name:    def.Name,
					Message: fmt.Sprintf("overrides definition from %s", prev),
				})
			}
			defs[def.Name] = def
			origin[def.Name] = path
		}
	}

	enabled := make(map[string]OperationDefinition)
	disabled := make(map[string]OperationDefinition)
	for name, def := range defs {
		if def.Enabled {
			enabled[name] = def
		} else {
			disabled[name] = def
		}
	}

	return &Registry{
		ops:      enabled,
		disabled: disabled,
		hash:     "sha256:" + hex.EncodeToString(h.Sum(nil)),
	}, warnings, nil
}

func (rd rawDefinition) toDefinition() (OperationDefinition, error) {
	def := OperationDefinition{
		Name:            rd.Name,
		Description:     rd.Description,
		Command:         rd.Command,
		Args:            rd.Args,
		Mutates:         rd.Mutates,
		RequiresConfirm: rd.RequiresConfirm,
		Timeout:         DefaultTimeout,
		Enabled:         true,
		NotifyOn:        rd.NotifyOn,
	}
	if rd.Timeout != "" {
		d, err := time.ParseDuration(rd.Timeout)
		if err != nil {
			return OperationDefinition{}, fmt.Errorf("%w: %s: timeout %q: %v", ErrInvalidDefinition, rd.Name, rd.Timeout, err)
		}
		def.Timeout = d
	}
	if rd.Enabled != nil {
		def.Enabled = *rd.Enabled
	}
	if def.Args == nil {
		def.Args = map[string]ArgSpec{}
	}
	if err := def.validate(); err != nil {
		return OperationDefinition{}, err
	}
	// Patterns compile once here; validate has already checked them.
	for name, spec := range def.Args {
		if spec.Pattern != "" {
			spec.compiledPattern = regexp.MustCompile(spec.Pattern)
			def.Args[name] = spec
		}
	}
	return def, nil
}

// Registry is the immutable post-load view of the policy. Disabled
// definitions are retained for diagnostics but are not callable.
type Registry struct {
	ops      map[string]OperationDefinition
	disabled map[string]OperationDefinition
	hash     string
}

// Lookup returns the enabled definition for name. The returned value is a
// deep copy; callers cannot mutate registry state through it.
func (r *Registry) Lookup(name string) (OperationDefinition, bool) {
	def, ok := r.ops[name]
	if !ok {
		return OperationDefinition{}, false
	}
	return def.clone(), true
}

// Names returns the sorted names of all enabled operations.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for name := range r.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Disabled returns the sorted names of definitions present but switched off.
func (r *Registry) Disabled() []string {
	names := make([]string, 0, len(r.disabled))
	for name := range r.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hash is the SHA-256 fingerprint of the raw policy sources, in
// "sha256:<hex>" form. Stamped onto every audit record.
func (r *Registry) Hash() string { return r.hash }

// Len reports the number of enabled operations.
func (r *Registry) Len() int { return len(r.ops) }
