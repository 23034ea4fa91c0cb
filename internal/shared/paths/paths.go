package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Files and directories inside the data dir
const (
	StateFile    = "stacks.json"
	HistoryFile  = "history.jsonl"
	SettingsFile = "settings.json"
	ExportsDir   = "exports"
)

// Layout returns the paths of one data dir
type Layout struct {
	Root string
}

// New returns the layout rooted at dir
func New(dir string) Layout {
	return Layout{Root: filepath.Clean(dir)}
}

// State returns the persisted stacks file
func (l Layout) State() string {
	return filepath.Join(l.Root, StateFile)
}

// History returns the history log
func (l Layout) History() string {
	return filepath.Join(l.Root, HistoryFile)
}

// Settings returns the settings file
func (l Layout) Settings() string {
	return filepath.Join(l.Root, SettingsFile)
}

// Exports returns the default export directory
func (l Layout) Exports() string {
	return filepath.Join(l.Root, ExportsDir)
}

// ResolveExport expands a leading ~ and places relative paths under the
// export directory
func (l Layout) ResolveExport(path string) (string, error) {
	expanded, err := Expand(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	if !IsWithin(l.Exports(), filepath.Join(l.Exports(), expanded)) {
		return "", fmt.Errorf("export path escapes %s: %s", l.Exports(), path)
	}
	return filepath.Join(l.Exports(), expanded), nil
}

// Expand replaces a leading ~ with the user's home directory and cleans the
// result
func Expand(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand %s: %w", path, err)
	}
	return filepath.Join(home, path[1:]), nil
}

// IsWithin reports whether path is root or lies below it
func IsWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
