// Package lifecycle finds, starts and stops the worker daemon of a workspace.
package lifecycle

import (
	"fmt"
	"io"
	"time"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workspace"
)

const (
	defaultPollInterval = time.Second
	defaultStartTimeout = 60 * time.Second
)

// Manager holds the policy for daemon lifecycle operations. It keeps no
// per-workspace state; every call takes the workspace explicitly.
type Manager struct {
	WorkerCommand []string
	LogPath       string
	GUIHint       string

	PingTimeout  time.Duration
	QuitTimeout  time.Duration
	QuitSettle   time.Duration
	PollInterval time.Duration
	StartTimeout time.Duration

	// Out receives progress messages for humans; nil discards them.
	Out    io.Writer
	Logger *logging.Logger
}

// NewManager builds a Manager from configuration.
func NewManager(cfg *config.Config, out io.Writer, logger *logging.Logger) *Manager {
	return &Manager{
		WorkerCommand: cfg.Worker.Command,
		LogPath:       config.WorkerLogPath(),
		GUIHint:       cfg.GUIHint,
		PingTimeout:   cfg.Timeouts.Ping.Std(),
		QuitTimeout:   protocol.DefaultQuitTimeout,
		QuitSettle:    500 * time.Millisecond,
		PollInterval:  cfg.Timeouts.Poll.Std(),
		StartTimeout:  cfg.Timeouts.Start.Std(),
		Out:           out,
		Logger:        logger,
	}
}

func (m *Manager) say(quiet bool, format string, args ...interface{}) {
	if quiet || m.Out == nil {
		return
	}
	fmt.Fprintf(m.Out, format+"\n", args...)
}

// LockConflict builds the error for a workspace held by an interactive
// instance that does not serve the protocol. oneShotHint adds the bypass
// suggestion for callers that could run without the workspace server.
func (m *Manager) LockConflict(ws *workspace.Workspace, lockPath string, oneShotHint bool) *protocol.LockConflictError {
	name := config.BinaryName()
	enable := fmt.Sprintf("Enable the server inside the interactive instance (see: %s server script)", name)
	if m.GUIHint != "" {
		enable = "Enable the server inside the interactive instance: " + m.GUIHint
	}
	hints := []string{enable, "Or close the interactive instance and retry"}
	if oneShotHint {
		hints = append(hints, fmt.Sprintf("Or bypass the server: %s --mode oneshot ...", name))
	}
	return &protocol.LockConflictError{Workspace: ws.Dir, LockPath: lockPath, Hints: hints}
}
