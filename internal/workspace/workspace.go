// Package workspace owns the files that scope one daemon instance: the port
// file, the interrupt flag, the spawn lock, and the externally created lock
// indicator.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"
)

const (
	PortFileName      = ".resident-port"
	InterruptFileName = ".resident-interrupt"
	SpawnLockFileName = ".resident-spawn.lock"
)

// Workspace is the directory that scopes one daemon instance.
type Workspace struct {
	Dir       string
	LockGlobs []string
}

// New resolves dir to an absolute path. The directory need not exist yet.
func New(dir string, lockGlobs []string) (*Workspace, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace %s: %w", dir, err)
	}
	return &Workspace{Dir: abs, LockGlobs: lockGlobs}, nil
}

// Ensure creates the workspace directory.
func (w *Workspace) Ensure() error {
	return os.MkdirAll(w.Dir, 0755)
}

func (w *Workspace) PortPath() string {
	return filepath.Join(w.Dir, PortFileName)
}

func (w *Workspace) InterruptPath() string {
	return filepath.Join(w.Dir, InterruptFileName)
}

func (w *Workspace) SpawnLockPath() string {
	return filepath.Join(w.Dir, SpawnLockFileName)
}

// HasPortFile reports whether a port file exists, parsable or not.
func (w *Workspace) HasPortFile() bool {
	_, err := os.Stat(w.PortPath())
	return err == nil
}

// ReadPort returns the recorded port. Missing, unparsable or out-of-range
// content yields false.
func (w *Workspace) ReadPort() (int, bool) {
	data, err := os.ReadFile(w.PortPath())
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || port <= 0 || port > 65535 {
		return 0, false
	}
	return port, true
}

// WritePort records port atomically. Only the worker calls this, after bind.
func (w *Workspace) WritePort(port int) error {
	if err := w.Ensure(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(w.Dir, PortFileName+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(strconv.Itoa(port) + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), w.PortPath())
}

// RemovePort deletes the port file, best effort.
func (w *Workspace) RemovePort() bool {
	return BestEffortRemove(w.PortPath())
}

// LockIndicator returns the first file matching one of the lock globs. The
// lock is created and removed by an interactive instance, never by us.
func (w *Workspace) LockIndicator() (string, bool) {
	fsys := os.DirFS(w.Dir)
	for _, pattern := range w.LockGlobs {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil || len(matches) == 0 {
			continue
		}
		return filepath.Join(w.Dir, filepath.FromSlash(matches[0])), true
	}
	return "", false
}

// SetInterrupt asks the worker to abandon its in-flight command. token
// identifies the request that raised it.
func (w *Workspace) SetInterrupt(token string) error {
	return os.WriteFile(w.InterruptPath(), []byte(token+"\n"), 0644)
}

// InterruptRequested reports whether the interrupt flag is set.
func (w *Workspace) InterruptRequested() bool {
	_, err := os.Stat(w.InterruptPath())
	return err == nil
}

// ClearInterrupt removes the interrupt flag, best effort.
func (w *Workspace) ClearInterrupt() bool {
	return BestEffortRemove(w.InterruptPath())
}

// SpawnLock returns the lock that serializes worker spawns for this
// workspace. Callers use TryLock and must Unlock.
func (w *Workspace) SpawnLock() *flock.Flock {
	return flock.New(w.SpawnLockPath())
}

// BestEffortRemove deletes path and reports whether the file is gone. A file
// another process already removed counts as gone.
func BestEffortRemove(path string) bool {
	err := os.Remove(path)
	return err == nil || errors.Is(err, os.ErrNotExist)
}
