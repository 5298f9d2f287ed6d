// Package workspace confines all filesystem-touching tools to a single
// directory tree. Every path a tool receives passes through Resolve before
// any syscall touches it.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// Resolver maps tool-supplied paths onto absolute paths under the workspace
// root, rejecting anything that would escape it.
type Resolver struct {
	root string
}

// New creates the resolver for root, creating the directory if needed. The
// stored root has symlinks resolved so later containment checks compare
// canonical paths.
func New(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Resolver{root: canonical}, nil
}

// Root returns the canonical workspace root.
func (r *Resolver) Root() string { return r.root }

// Resolve turns a tool-supplied path into an absolute path inside the
// workspace. overrideRoot, when non-empty, selects a subdirectory of the
// workspace as the effective root for this call; it must itself resolve
// inside the workspace. The returned path need not exist.
func (r *Resolver) Resolve(path, overrideRoot string) (string, error) {
	if strings.ContainsRune(path, 0) || strings.ContainsRune(overrideRoot, 0) {
		return "", toolerr.Securityf("path contains a null byte")
	}

	root := r.root
	if overrideRoot != "" {
		or, err := r.contain(r.root, overrideRoot)
		if err != nil {
			return "", toolerr.Securityf("override root %q is outside the workspace", overrideRoot)
		}
		root = or
	}

	resolved, err := r.contain(root, path)
	if err != nil {
		return "", toolerr.Securityf("path %q is outside the workspace", path)
	}
	return resolved, nil
}

// contain joins path onto root, resolves symlinks through the deepest
// existing ancestor and verifies the result stays under root.
func (r *Resolver) contain(root, path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Join(root, path)
	}

	canonical, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}
	if !isDescendant(root, canonical) {
		return "", fmt.Errorf("path %s escapes %s", canonical, root)
	}
	return canonical, nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and re-joins the non-existing remainder, so paths about to be created
// are still checked against their real parent directory.
func resolveExisting(path string) (string, error) {
	current := path
	var pending []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(pending) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, pending[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		pending = append(pending, filepath.Base(current))
		current = parent
	}
}

func isDescendant(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// Info describes the workspace for the workspace_info tool and the admin
// system endpoint.
type Info struct {
	Root           string `json:"root"`
	Exists         bool   `json:"exists"`
	Files          int    `json:"files"`
	Directories    int    `json:"directories"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
}

// Info walks the workspace and reports counts and total size. Unreadable
// entries are skipped.
func (r *Resolver) Info() Info {
	info := Info{Root: r.root}
	st, err := os.Stat(r.root)
	if err != nil || !st.IsDir() {
		return info
	}
	info.Exists = true

	filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == r.root {
			return nil
		}
		if d.IsDir() {
			info.Directories++
			return nil
		}
		info.Files++
		if fi, err := d.Info(); err == nil {
			info.TotalSizeBytes += fi.Size()
		}
		return nil
	})
	return info
}
