// Package pathguard confines caller-supplied filesystem paths to configured
// root directories. Confinement happens on the resolved path: symlinks are
// followed before the containment check, so a link pointing outside a root
// cannot smuggle the path through.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxPathLen bounds raw input before any filesystem work.
const maxPathLen = 4096

// Violation is a failed confinement. Error() is deliberately generic; the
// Detail method carries the specifics and is meant for the audit log only.
type Violation struct {
	Path   string
	Root   string
	Reason string
}

func (v *Violation) Error() string {
	return "pathguard: path not permitted"
}

// Detail describes the violation for audit purposes. Never expose this to
// callers: it leaks filesystem layout.
func (v *Violation) Detail() string {
	return fmt.Sprintf("path %q escapes root %q: %s", v.Path, v.Root, v.Reason)
}

// ConfinePath canonicalizes raw and verifies it stays inside root. Relative
// inputs are interpreted against root. On success the returned path is
// absolute, symlink-resolved, and safe to hand to the executor.
func ConfinePath(raw, root string) (string, error) {
	if raw == "" {
		return "", &Violation{Path: raw, Root: root, Reason: "empty path"}
	}
	if strings.ContainsRune(raw, 0) {
		return "", &Violation{Path: "<nul>", Root: root, Reason: "NUL byte in path"}
	}
	if len(raw) > maxPathLen {
		return "", &Violation{Path: raw[:64] + "...", Root: root, Reason: "path too long"}
	}

	canonRoot, err := canonicalRoot(root)
	if err != nil {
		return "", fmt.Errorf("pathguard: root %s: %w", root, err)
	}

	candidate := raw
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(canonRoot, candidate)
	}
	resolved, err := resolve(candidate)
	if err != nil {
		return "", fmt.Errorf("pathguard: resolve %s: %w", raw, err)
	}

	rel, err := filepath.Rel(canonRoot, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &Violation{Path: raw, Root: root, Reason: "resolved outside root"}
	}
	return resolved, nil
}

// ConfineAny tries each allowed root in order and returns the first
// confinement that succeeds. Only when every root rejects the path does the
// caller see a violation.
func ConfineAny(raw string, roots []string) (string, error) {
	if len(roots) == 0 {
		return "", &Violation{Path: raw, Reason: "no allowed roots configured"}
	}
	var last error
	for _, root := range roots {
		resolved, err := ConfinePath(raw, root)
		if err == nil {
			return resolved, nil
		}
		last = err
	}
	return "", last
}

func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	// Roots must exist; a dangling root would make every check meaningless.
	return filepath.EvalSymlinks(abs)
}

// resolve canonicalizes a path that may not fully exist yet. The deepest
// existing ancestor is symlink-resolved and the non-existent remainder is
// re-joined, so "create file under confined dir" requests still pass.
func resolve(path string) (string, error) {
	clean := filepath.Clean(path)
	current := clean
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return filepath.Clean(resolved), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}
