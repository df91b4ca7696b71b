package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaultPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "policy.yaml", DefaultPolicyYAML)

	reg, warnings, err := Load([]string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if reg.Len() != 2 {
		t.Errorf("enabled operations = %d, want 2", reg.Len())
	}
	if got := reg.Disabled(); len(got) != 1 || got[0] != "reboot_host" {
		t.Errorf("Disabled() = %v, want [reboot_host]", got)
	}
	if !strings.HasPrefix(reg.Hash(), "sha256:") {
		t.Errorf("Hash() = %q, want sha256: prefix", reg.Hash())
	}

	def, ok := reg.Lookup("disk_usage")
	if !ok {
		t.Fatal("disk_usage not found")
	}
	if def.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", def.Timeout)
	}
	if !def.Args["target"].Path {
		t.Error("target should be a path argument")
	}

	if _, ok := reg.Lookup("reboot_host"); ok {
		t.Error("disabled operation must not resolve via Lookup")
	}
}

func TestLoadDefaultsTimeout(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "p.yaml", `
operations:
  - name: uptime
    command: ["uptime"]
`)
	reg, _, err := Load([]string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := reg.Lookup("uptime")
	if def.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default %v", def.Timeout, DefaultTimeout)
	}
	if !def.Enabled {
		t.Error("enabled should default to true")
	}
}

func TestLoadLastWinsMerge(t *testing.T) {
	dir := t.TempDir()
	base := writePolicy(t, dir, "base.yaml", `
operations:
  - name: uptime
    description: "base"
    command: ["uptime"]
    requires_confirm: true
`)
	override := writePolicy(t, dir, "override.yaml", `
operations:
  - name: uptime
    description: "override"
    command: ["uptime", "-p"]
`)

	reg, warnings, err := Load([]string{base, override})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one override warning", warnings)
	}
	if warnings[0].Name != "uptime" {
		t.Errorf("warning name = %q, want uptime", warnings[0].Name)
	}

	def, _ := reg.Lookup("uptime")
	if def.Description != "override" {
		t.Errorf("description = %q, want the overriding definition", def.Description)
	}
	// Wholesale replacement: the base requires_confirm must not leak through.
	if def.RequiresConfirm {
		t.Error("override dropped requires_confirm; merged value must not retain it")
	}
}

func TestLoadRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad name", `
operations:
  - name: "Bad Name"
    command: ["true"]
`},
		{"empty command", `
operations:
  - name: noop
    command: []
`},
		{"bad timeout", `
operations:
  - name: noop
    command: ["true"]
    timeout: soon
`},
		{"undeclared placeholder", `
operations:
  - name: cat_file
    command: ["cat", "{file}"]
`},
		{"optional placeholder", `
operations:
  - name: cat_file
    command: ["cat", "{file}"]
    args:
      file:
        type: string
`},
		{"bad pattern", `
operations:
  - name: noop
    command: ["true"]
    args:
      x:
        type: string
        pattern: "["
`},
		{"bad glob", `
operations:
  - name: noop
    command: ["true"]
    args:
      x:
        type: string
        glob: "[a-"
`},
		{"enum on int", `
operations:
  - name: noop
    command: ["true"]
    args:
      x:
        type: int
        enum: ["a"]
`},
		{"unknown notify event", `
operations:
  - name: noop
    command: ["true"]
    notify: [always]
`},
		{"duplicate in one source", `
operations:
  - name: noop
    command: ["true"]
  - name: noop
    command: ["false"]
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writePolicy(t, dir, "p.yaml", tt.yaml)
			_, _, err := Load([]string{path})
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Load error = %v, want ErrInvalidDefinition", err)
			}
		})
	}
}

func TestLoadRejectsUnreadableSource(t *testing.T) {
	_, _, err := Load([]string{filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil {
		t.Fatal("Load should fail for a missing source")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "p.yaml", "operations: [\n")
	_, _, err := Load([]string{path})
	if err == nil {
		t.Fatal("Load should fail for malformed YAML")
	}
}

func TestLoadCompilesPatterns(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "p.yaml", `
operations:
  - name: tag_release
    command: ["tag", "{tag}"]
    args:
      tag:
        type: string
        required: true
        pattern: "^v[0-9]+$"
`)
	reg, _, err := Load([]string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := reg.Lookup("tag_release")
	re := def.Args["tag"].PatternRegexp()
	if re == nil {
		t.Fatal("pattern not compiled at load")
	}
	// Same instance on every use, not a per-request recompile.
	if re != def.Args["tag"].PatternRegexp() {
		t.Error("PatternRegexp returns a fresh compile for a loaded definition")
	}
	if !re.MatchString("v3") || re.MatchString("three") {
		t.Error("compiled pattern does not match the declared one")
	}
	if spec := (ArgSpec{}); spec.PatternRegexp() != nil {
		t.Error("patternless spec should return nil")
	}
}

func TestLookupReturnsIsolatedCopy(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "p.yaml", `
operations:
  - name: deploy
    command: ["deploy", "{env}"]
    notify: [failure]
    args:
      env:
        type: string
        required: true
        enum: [staging, production]
`)
	reg, _, err := Load([]string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	def, _ := reg.Lookup("deploy")
	def.Command[0] = "rm"
	def.NotifyOn[0] = "success"
	def.Args["env"] = ArgSpec{Type: TypeString}
	spec := def.Args["env"]
	spec.Enum = append(spec.Enum, "prod-eu")

	fresh, _ := reg.Lookup("deploy")
	if fresh.Command[0] != "deploy" {
		t.Error("command slice shared with registry state")
	}
	if fresh.NotifyOn[0] != "failure" {
		t.Error("notify slice shared with registry state")
	}
	if got := fresh.Args["env"]; !got.Required || len(got.Enum) != 2 {
		t.Errorf("args map shared with registry state: %+v", got)
	}
}

func TestExpandCommand(t *testing.T) {
	def := OperationDefinition{
		Name:    "copy_file",
		Command: []string{"cp", "{src}", "{dst}"},
		Args: map[string]ArgSpec{
			"src": {Type: TypeString, Required: true},
			"dst": {Type: TypeString, Required: true},
		},
	}

	argv, err := ExpandCommand(def, map[string]string{"src": "/a", "dst": "/b"})
	if err != nil {
		t.Fatalf("ExpandCommand: %v", err)
	}
	want := []string{"cp", "/a", "/b"}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("argv = %v, want %v", argv, want)
		}
	}

	if _, err := ExpandCommand(def, map[string]string{"src": "/a"}); err == nil {
		t.Error("ExpandCommand should fail when a placeholder value is missing")
	}
}

func TestExpandCommandLeavesLiteralsAlone(t *testing.T) {
	def := OperationDefinition{
		Name:    "list",
		Command: []string{"ls", "-la", "--color=never"},
	}
	argv, err := ExpandCommand(def, nil)
	if err != nil {
		t.Fatalf("ExpandCommand: %v", err)
	}
	if len(argv) != 3 || argv[2] != "--color=never" {
		t.Errorf("argv = %v", argv)
	}
}
