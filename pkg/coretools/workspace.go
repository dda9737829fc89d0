package coretools

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideWorkspace is returned for paths that resolve outside the root.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Workspace confines tool paths to a root directory.
type Workspace struct {
	root string
}

// NewWorkspace resolves root (symlinks included) and checks it is a directory.
func NewWorkspace(root string) (*Workspace, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", resolved)
	}
	return &Workspace{root: resolved}, nil
}

// Root returns the resolved root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a tool-supplied path to an absolute path inside the root.
// Relative paths are taken from the root. Paths that do not exist yet are
// checked through their nearest existing ancestor.
func (w *Workspace) Resolve(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "."
	}
	if strings.ContainsRune(trimmed, 0) {
		return "", fmt.Errorf("invalid path %q", path)
	}

	candidate := trimmed
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(w.root, candidate)
	}
	candidate = filepath.Clean(candidate)
	if !w.contains(candidate) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}

	existing := candidate
	var rest []string
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if !w.contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return filepath.Join(append([]string{resolved}, rest...)...), nil
}

// Rel returns path relative to the root for display.
func (w *Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Workspace) contains(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
