// Package workspace gives sandboxed code a rooted directory for file
// I/O, so results can be written to disk instead of flowing through
// captured output.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// ErrPathOutsideRoot is returned for paths that would escape the
// workspace root.
var ErrPathOutsideRoot = errors.New("path escapes workspace root")

// Workspace is a directory-rooted file store. All paths are relative to
// the root; attempts to escape it are rejected.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the structured logger for workspace diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New creates a Workspace rooted at dir, creating the directory if
// needed.
func New(dir string, opts ...Option) (*Workspace, error) {
	if dir == "" {
		dir = ".workspace"
	}
	w := &Workspace{root: dir, logger: slog.Default()}
	for _, o := range opts {
		o(w)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return w, nil
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string { return w.root }

// resolve maps a workspace-relative path to a filesystem path,
// rejecting absolute paths and parent-directory escapes.
func (w *Workspace) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideRoot)
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideRoot, rel)
	}
	return filepath.Join(w.root, clean), nil
}

// Write stores data at the given workspace-relative path, creating
// parent directories as needed. Strings and byte slices are written
// verbatim; any other value is written as indented JSON.
func (w *Workspace) Write(rel string, data any) error {
	path, err := w.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}

	var content []byte
	switch v := data.(type) {
	case string:
		content = []byte(v)
	case []byte:
		content = v
	default:
		content, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", rel, err)
		}
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	w.logger.Debug("workspace write", "path", rel, "bytes", len(content))
	return nil
}

// Read returns the contents of a workspace file. A missing file yields
// an error satisfying errors.Is(err, fs.ErrNotExist).
func (w *Workspace) Read(rel string) (string, error) {
	path, err := w.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// List returns workspace-relative paths of all files matching pattern.
// Patterns use glob syntax with / as the separator; "**" crosses
// directory boundaries.
func (w *Workspace) List(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}

	var matches []string
	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if g.Match(rel) {
			matches = append(matches, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk workspace: %w", err)
	}
	return matches, nil
}

// Clear removes every file in the workspace, leaving an empty root.
func (w *Workspace) Clear() error {
	if err := os.RemoveAll(w.root); err != nil {
		return fmt.Errorf("clear workspace: %w", err)
	}
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("recreate workspace root: %w", err)
	}
	w.logger.Debug("workspace cleared", "root", w.root)
	return nil
}
