package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape is returned when a path resolves outside its workspace root.
	ErrPathEscape = errors.New("path escapes workspace root")
	// ErrUnknownWorkspace is returned for a workspace name that matches no root.
	ErrUnknownWorkspace = errors.New("unknown workspace")
)

// Root is one workspace folder.
type Root struct {
	Name string
	Path string
}

// Workspace resolves and accesses files across one or more roots.
type Workspace struct {
	roots []Root
}

// NewWorkspace creates a Workspace. With no roots, the current working
// directory becomes the single root.
func NewWorkspace(roots []Root) (*Workspace, error) {
	if len(roots) == 0 {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get current working directory: %w", err)
		}
		roots = []Root{{Name: filepath.Base(wd), Path: wd}}
	}

	absRoots := make([]Root, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r.Path)
		if err != nil {
			return nil, fmt.Errorf("invalid workspace root '%s': %w", r.Path, err)
		}
		name := r.Name
		if name == "" {
			name = filepath.Base(abs)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate workspace name '%s'", name)
		}
		seen[name] = struct{}{}
		absRoots = append(absRoots, Root{Name: name, Path: filepath.Clean(abs)})
	}
	return &Workspace{roots: absRoots}, nil
}

// Roots lists the workspace roots in configured order.
func (w *Workspace) Roots() []Root {
	out := make([]Root, len(w.roots))
	copy(out, w.roots)
	return out
}

// IsSingleRoot reports whether the workspace has exactly one root.
func (w *Workspace) IsSingleRoot() bool {
	return len(w.roots) == 1
}

// DefaultRoot is the first configured root.
func (w *Workspace) DefaultRoot() Root {
	return w.roots[0]
}

// Root returns the root with the given name, or the default root for "".
func (w *Workspace) Root(name string) (Root, error) {
	if name == "" {
		return w.DefaultRoot(), nil
	}
	for _, r := range w.roots {
		if r.Name == name {
			return r, nil
		}
	}
	return Root{}, fmt.Errorf("%w: %s", ErrUnknownWorkspace, name)
}

// Resolve maps a file path from a chat response to an absolute path inside
// a workspace root. An unknown workspace name is treated as the first path
// segment of a path in the default root, since a multi-root response may omit
// the prefix.
func (w *Workspace) Resolve(workspaceName, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	if filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		for _, r := range w.roots {
			if within(r.Path, clean) {
				return clean, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrPathEscape, path)
	}

	root, err := w.Root(workspaceName)
	if err != nil {
		root = w.DefaultRoot()
		path = filepath.Join(workspaceName, path)
	}

	if workspaceName == "" && !w.IsSingleRoot() {
		// A leading segment naming another root selects that root.
		if first, rest, ok := strings.Cut(filepath.ToSlash(path), "/"); ok {
			if named, err := w.Root(first); err == nil && rest != "" {
				root, path = named, rest
			}
		}
	}

	return ResolveSafe(root.Path, path)
}

// ResolveSafe joins a relative path onto root and rejects results outside it.
func ResolveSafe(root, relative string) (string, error) {
	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(relative)))
	if !within(root, abs) {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, relative)
	}
	return abs, nil
}

func within(root, abs string) bool {
	root = filepath.Clean(root)
	return abs == root || strings.HasPrefix(abs, root+string(os.PathSeparator))
}

// Relative renders an absolute path relative to the root containing it,
// prefixed with the root name in multi-root workspaces.
func (w *Workspace) Relative(abs string) string {
	for _, r := range w.roots {
		if !within(r.Path, abs) {
			continue
		}
		rel, err := filepath.Rel(r.Path, abs)
		if err != nil {
			return abs
		}
		if w.IsSingleRoot() {
			return filepath.ToSlash(rel)
		}
		return r.Name + "/" + filepath.ToSlash(rel)
	}
	return abs
}

// Exists reports whether a regular file exists at path.
func (w *Workspace) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadFile returns file contents as a string.
func (w *Workspace) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed. Existing
// file permissions are preserved.
func (w *Workspace) WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	return os.WriteFile(path, []byte(content), mode)
}

// RemoveFile deletes a file and then any parent directories left empty,
// stopping at the workspace root.
func (w *Workspace) RemoveFile(path string) error {
	if err := os.Remove(path); err != nil {
		return err
	}
	w.pruneEmptyDirs(filepath.Dir(path))
	return nil
}

func (w *Workspace) pruneEmptyDirs(dir string) {
	for {
		isRoot := false
		inside := false
		for _, r := range w.roots {
			if dir == r.Path {
				isRoot = true
			}
			if within(r.Path, dir) {
				inside = true
			}
		}
		if isRoot || !inside {
			return
		}
		if empty, _ := IsEmpty(dir); !empty {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// IsEmpty reports whether a directory has no entries.
func IsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
