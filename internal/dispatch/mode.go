package dispatch

import (
	"fmt"
	"strings"
)

// Mode selects how a script reaches a worker.
type Mode int

const (
	// Automatic uses a running daemon, starts one if needed, and falls back
	// to a one-shot worker when no daemon can be had.
	Automatic Mode = iota
	// OneShot always runs a disposable worker.
	OneShot
	// ExistingOnly requires an already running daemon.
	ExistingOnly
	// EnsureDaemon starts a daemon when none is running, without fallback.
	EnsureDaemon
)

var modeNames = map[Mode]string{
	Automatic:    "auto",
	OneShot:      "oneshot",
	ExistingOnly: "existing",
	EnsureDaemon: "daemon",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name. The empty string is Automatic.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Automatic, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return Automatic, fmt.Errorf("unknown mode %q (want auto, oneshot, existing or daemon)", s)
}

// ModeNames lists the accepted mode names.
func ModeNames() []string {
	return []string{"auto", "oneshot", "existing", "daemon"}
}

// Via records which path produced a result.
type Via int

const (
	ViaDaemon Via = iota
	ViaOneShot
)

func (v Via) String() string {
	if v == ViaOneShot {
		return "oneshot"
	}
	return "daemon"
}
