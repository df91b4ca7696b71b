package dispatch

import (
	"sort"

	"github.com/opgate/opgate/internal/policy"
)

// OperationInfo is the caller-visible description of one enabled operation.
// Command templates are deliberately omitted: callers learn what they may
// invoke, not how it is implemented.
type OperationInfo struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Mutates         bool     `json:"mutates"`
	RequiresConfirm bool     `json:"requiresConfirm"`
	Timeout         string   `json:"timeout"`
	Arguments       []string `json:"arguments,omitempty"`
}

// Operations lists the enabled operations of the active registry, sorted by
// name.
func (d *Dispatcher) Operations() []OperationInfo {
	reg := d.reg.Load()
	infos := make([]OperationInfo, 0, reg.Len())
	for _, name := range reg.Names() {
		def, _ := reg.Lookup(name)
		info := OperationInfo{
			Name:            def.Name,
			Description:     def.Description,
			Mutates:         def.Mutates,
			RequiresConfirm: def.RequiresConfirm,
			Timeout:         def.Timeout.String(),
		}
		for _, arg := range sortedArgNames(def.Args) {
			info.Arguments = append(info.Arguments, arg)
		}
		infos = append(infos, info)
	}
	return infos
}

func sortedArgNames(args map[string]policy.ArgSpec) []string {
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
