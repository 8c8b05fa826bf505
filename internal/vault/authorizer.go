// Package vault sandboxes tool filesystem access and provides per-turn
// backups so a turn's mutations can be undone without version control.
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDenied is returned for any path outside the allowed roots.
var ErrDenied = errors.New("path outside sandbox")

// Authorizer resolves and validates paths against a set of allowed roots.
// The first root is the session working directory; callers may add more.
type Authorizer struct {
	roots []string
}

// NewAuthorizer builds an authorizer for the given roots. Roots are made
// absolute at construction; an empty list denies everything.
func NewAuthorizer(roots ...string) (*Authorizer, error) {
	a := &Authorizer{}
	for _, r := range roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, fmt.Errorf("resolve root %q: %w", r, err)
		}
		// Roots behind symlinks (e.g. /tmp on darwin) must compare in
		// resolved form or every symlink check would fail.
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		a.roots = append(a.roots, filepath.Clean(abs))
	}
	return a, nil
}

// Roots returns the allowed roots.
func (a *Authorizer) Roots() []string {
	out := make([]string, len(a.roots))
	copy(out, a.roots)
	return out
}

// Resolve returns an absolute, cleaned path inside one of the allowed
// roots. Relative paths resolve against the first root. `..` traversal is
// resolved before comparison, and a symlink whose resolved target escapes
// the sandbox is denied.
func (a *Authorizer) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	if len(a.roots) == 0 {
		return "", fmt.Errorf("%w: no roots configured", ErrDenied)
	}

	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(a.roots[0], clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	// A lexically inside path can still escape through a symlinked
	// ancestor, and a lexically outside one can be an unresolved alias of
	// an allowed root. The resolved form is authoritative.
	resolved, err := resolveExisting(targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve symlinks: %w", err)
	}
	if !a.inside(resolved) {
		return "", fmt.Errorf("%w: %s", ErrDenied, path)
	}
	return targetAbs, nil
}

func (a *Authorizer) inside(abs string) bool {
	for _, root := range a.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))) {
			return true
		}
	}
	return false
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and rejoins the non-existing suffix, so paths about to be created
// are still checked through any symlinked parents.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Join(current, remainder), nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}
