package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathPolicy allows access to files under a fixed set of root directories.
// Symlinks are resolved before the check, so a link cannot point outside a
// root.
type PathPolicy struct {
	roots []string
}

func NewPathPolicy(roots ...string) (*PathPolicy, error) {
	p := &PathPolicy{}
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(expandHome(r))
		if err != nil {
			return nil, fmt.Errorf("resolving allowed path %q: %w", r, err)
		}
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			abs = resolved
		}
		p.roots = append(p.roots, abs)
	}
	return p, nil
}

// Roots returns the allowed directories.
func (p *PathPolicy) Roots() []string { return p.roots }

// Check resolves path and returns its absolute form if it lies under one of
// the roots. Relative paths are taken from the first root.
func (p *PathPolicy) Check(path string) (string, error) {
	if len(p.roots) == 0 {
		return "", fmt.Errorf("%w: no allowed paths configured", ErrPermissionDenied)
	}
	path = expandHome(path)
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.roots[0], path)
	}
	path = filepath.Clean(path)
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	for _, root := range p.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s is outside the allowed paths", ErrPermissionDenied, path)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
