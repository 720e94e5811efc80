// Package workspace provides file capabilities scoped to a per-domain
// directory: search_files, read_file and list_directory.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the domain directory.
var ErrOutsideRoot = errors.New("path is outside the domain workspace")

var domainIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Workspace maps domain IDs to directories under Root. An empty domain ID
// resolves to Root itself.
type Workspace struct {
	Root string
	// MaxFileBytes caps how much of a file read_file and search_files load.
	MaxFileBytes int64
}

// New creates a Workspace rooted at root.
func New(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{Root: abs, MaxFileBytes: 1 << 20}, nil
}

// DomainDir returns the directory for domainID.
func (w *Workspace) DomainDir(domainID string) (string, error) {
	if domainID == "" {
		return w.Root, nil
	}
	if !domainIDPattern.MatchString(domainID) {
		return "", fmt.Errorf("invalid domain id %q", domainID)
	}
	return filepath.Join(w.Root, domainID), nil
}

// resolve joins rel onto the domain directory and rejects escapes, including
// symlinks that lead outside it. A path that does not exist is returned
// unresolved so the caller's open reports it.
func (w *Workspace) resolve(domainID, rel string) (string, error) {
	base, err := w.DomainDir(domainID)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	full := filepath.Join(base, rel)
	if !within(base, full) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}

	resolved, err := filepath.EvalSymlinks(full)
	if errors.Is(err, fs.ErrNotExist) {
		return full, nil
	}
	if err != nil {
		return "", err
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", err
	}
	if !within(w.Root, realBase) || !within(realBase, resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return resolved, nil
}

// within reports whether path is dir or below it. Both must be clean.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Entry is one directory listing item.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// ListDirectory lists rel inside the domain directory.
func (w *Workspace) ListDirectory(domainID, rel string) ([]Entry, error) {
	dir, err := w.resolve(domainID, rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list_directory: %w", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		item := Entry{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil && !e.IsDir() {
			item.Size = info.Size()
		}
		out = append(out, item)
	}
	return out, nil
}

// ReadFile returns line-numbered content of rel starting at the 1-based
// offset, at most limit lines.
func (w *Workspace) ReadFile(domainID, rel string, offset, limit int) (string, error) {
	path, err := w.resolve(domainID, rel)
	if err != nil {
		return "", err
	}
	data, err := w.readCapped(path)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	start := 0
	if offset > 0 {
		start = offset - 1
	}
	if start >= len(lines) {
		return "", nil
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return sb.String(), nil
}

func (w *Workspace) readCapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filepath.Base(path))
	}
	if w.MaxFileBytes > 0 {
		return io.ReadAll(io.LimitReader(f, w.MaxFileBytes))
	}
	return io.ReadAll(f)
}
