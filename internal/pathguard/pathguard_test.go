package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfinePathInsideRoot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "logs")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"absolute", filepath.Join(root, "logs")},
		{"relative", "logs"},
		{"relative with dot", "./logs"},
		{"nonexistent leaf", filepath.Join(root, "logs", "new.txt")},
		{"nonexistent subtree", "logs/a/b/c.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConfinePath(tt.raw, root)
			if err != nil {
				t.Fatalf("ConfinePath(%q): %v", tt.raw, err)
			}
			if !filepath.IsAbs(got) {
				t.Errorf("resolved path %q is not absolute", got)
			}
		})
	}
}

func TestConfinePathRejectsEscapes(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	tests := []struct {
		name string
		raw  string
	}{
		{"dotdot", "../" + filepath.Base(outside)},
		{"absolute outside", outside},
		{"traversal through root", filepath.Join(root, "..", filepath.Base(outside))},
		{"empty", ""},
		{"nul byte", "a\x00b"},
		{"oversized", strings.Repeat("a", 5000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConfinePath(tt.raw, root)
			var v *Violation
			if !errors.As(err, &v) {
				t.Fatalf("ConfinePath(%q) error = %v, want *Violation", tt.raw, err)
			}
			if v.Error() != "pathguard: path not permitted" {
				t.Errorf("violation message leaks detail: %q", v.Error())
			}
			if v.Detail() == "" {
				t.Error("violation detail is empty")
			}
		})
	}
}

func TestConfinePathRejectsSiblingPrefix(t *testing.T) {
	// /tmp/x/data must not admit /tmp/x/data-other via prefix matching.
	base := t.TempDir()
	root := filepath.Join(base, "data")
	sibling := filepath.Join(base, "data-other")
	for _, dir := range []string{root, sibling} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ConfinePath(sibling, root); err == nil {
		t.Fatal("sibling directory sharing the root's name prefix must be rejected")
	}
}

func TestConfinePathFollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	secret := filepath.Join(outside, "secret.txt")
	if err := os.WriteFile(secret, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	escape := filepath.Join(root, "escape")
	if err := os.Symlink(outside, escape); err != nil {
		t.Fatal(err)
	}

	// A symlink inside the root pointing outside must be rejected, both
	// directly and through a non-existent suffix.
	for _, raw := range []string{escape, filepath.Join(escape, "secret.txt"), "escape/new.txt"} {
		if _, err := ConfinePath(raw, root); err == nil {
			t.Errorf("ConfinePath(%q) succeeded, want violation", raw)
		}
	}

	// A symlink staying inside the root is fine.
	inner := filepath.Join(root, "real")
	if err := os.Mkdir(inner, 0o755); err != nil {
		t.Fatal(err)
	}
	alias := filepath.Join(root, "alias")
	if err := os.Symlink(inner, alias); err != nil {
		t.Fatal(err)
	}
	got, err := ConfinePath(alias, root)
	if err != nil {
		t.Fatalf("ConfinePath(alias): %v", err)
	}
	if filepath.Base(got) != "real" {
		t.Errorf("resolved = %q, want the symlink target", got)
	}
}

func TestConfineAny(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	target := filepath.Join(rootB, "file.txt")
	if err := os.WriteFile(target, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ConfineAny(target, []string{rootA, rootB})
	if err != nil {
		t.Fatalf("ConfineAny: %v", err)
	}
	if !strings.HasSuffix(got, "file.txt") {
		t.Errorf("resolved = %q", got)
	}

	if _, err := ConfineAny(t.TempDir(), []string{rootA, rootB}); err == nil {
		t.Error("path outside every root must be rejected")
	}
	if _, err := ConfineAny(target, nil); err == nil {
		t.Error("empty root set must reject everything")
	}
}
