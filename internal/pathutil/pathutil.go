// Package pathutil widens PATH for worker launches. Launchers started from a
// desktop session or a scheduler often inherit a minimal PATH that misses the
// usual tool install locations.
package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by LookPath when no directory holds the binary.
var ErrNotFound = errors.New("executable file not found")

// CommonDirs returns install locations that are often missing from a
// minimal PATH.
func CommonDirs() []string {
	dirs := []string{
		"/usr/local/bin",
		"/usr/local/sbin",
		"/opt/homebrew/bin",
		"/opt/homebrew/sbin",
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".local", "bin"), filepath.Join(home, "bin"))
	}
	return dirs
}

// Merge combines two PATH strings, preserving order and removing duplicates.
// Primary entries come first.
func Merge(primary, secondary string) string {
	seen := make(map[string]bool)
	var merged []string

	for _, list := range []string{primary, secondary} {
		for _, part := range filepath.SplitList(list) {
			if part != "" && !seen[part] {
				seen[part] = true
				merged = append(merged, part)
			}
		}
	}
	return strings.Join(merged, string(os.PathListSeparator))
}

// Widen appends the dirs that exist on disk to current.
func Widen(current string, dirs []string) string {
	for _, d := range dirs {
		if info, err := os.Stat(d); err == nil && info.IsDir() {
			current = Merge(current, d)
		}
	}
	return current
}

// LookPath finds name in the directories of path. Names containing a
// separator are checked as given.
func LookPath(name, path string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", ErrNotFound
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}
