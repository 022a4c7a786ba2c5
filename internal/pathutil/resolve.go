// Package pathutil resolves user-supplied paths from flags and the config file.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// Expand replaces a leading "~" with the home directory. Other paths are
// returned unchanged.
func Expand(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, `~\`) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// ResolveAbsolutePath expands "~" and makes path absolute. Symlinks in the
// existing part of the path are resolved and missing components are appended
// as given, so the result is stable for files that are about to be created.
func ResolveAbsolutePath(path string) (string, error) {
	if path == "" {
		return os.Getwd()
	}

	path, err := Expand(path)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved, nil
	}

	// Walk up to the deepest existing ancestor
	existing := absPath
	var missing []string
	for {
		if _, err := os.Stat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return absPath, nil
		}
		missing = append([]string{filepath.Base(existing)}, missing...)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		resolved = existing
	}
	return filepath.Join(append([]string{resolved}, missing...)...), nil
}
