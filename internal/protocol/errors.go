package protocol

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInterrupted reports a user-initiated cancellation.
	ErrInterrupted = errors.New("interrupted")

	// ErrReservedLine is returned when a payload line collides with a sentinel.
	ErrReservedLine = errors.New("payload line collides with a protocol sentinel")
)

// TransportError means the command's outcome is unknown: the connection could
// not be made, timed out, or dropped before END_RESPONSE.
type TransportError struct {
	Op   string // dial, write, read
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError means the worker ran the command and it failed. Output holds the
// lines the worker produced. Code is the worker's own exit status for one-shot
// runs and zero for daemon runs.
type RemoteError struct {
	Output []string
	Code   int
}

func (e *RemoteError) Error() string {
	if len(e.Output) == 0 {
		if e.Code != 0 {
			return fmt.Sprintf("command failed (exit %d)", e.Code)
		}
		return "command failed"
	}
	return strings.Join(e.Output, "\n")
}

// LaunchError reports that no worker could be started.
type LaunchError struct {
	Message string
	Hints   []string
	LogPath string
	Err     error
}

func (e *LaunchError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.LogPath != "" {
		msg += fmt.Sprintf(" (check log: %s)", e.LogPath)
	}
	return withHints(msg, e.Hints)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// LockConflictError reports an interactive instance holding the workspace
// without serving the protocol. It is never resolved automatically.
type LockConflictError struct {
	Workspace string
	LockPath  string
	Hints     []string
}

func (e *LockConflictError) Error() string {
	msg := fmt.Sprintf("workspace %s is locked by an interactive instance (%s) but no server is running", e.Workspace, e.LockPath)
	return withHints(msg, e.Hints)
}

// NotRunningError is returned when an existing server was required.
type NotRunningError struct {
	Workspace string
}

func (e *NotRunningError) Error() string {
	return fmt.Sprintf("no server running for workspace %s and no interactive instance detected", e.Workspace)
}

func withHints(msg string, hints []string) string {
	if len(hints) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	b.WriteString("\n\nSuggested actions:")
	for _, h := range hints {
		b.WriteString("\n  → ")
		b.WriteString(h)
	}
	return b.String()
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRemote reports whether err is a remote command failure.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, ErrInterrupted) {
		return ExitInterrupted
	}

	var (
		remote  *RemoteError
		lock    *LockConflictError
		launch  *LaunchError
		absent  *NotRunningError
		network *TransportError
	)
	switch {
	case errors.As(err, &remote):
		if remote.Code > 0 && remote.Code < 256 && !reservedExit(remote.Code) {
			return remote.Code
		}
		return ExitRemote
	case errors.As(err, &lock):
		return ExitLocked
	case errors.As(err, &launch):
		return ExitLaunch
	case errors.As(err, &absent):
		return ExitNotRunning
	case errors.As(err, &network):
		return ExitTransport
	}
	return ExitRemote
}

// reservedExit reports whether code means something other than a failed
// command, so a worker exit status must not be passed through as it.
func reservedExit(code int) bool {
	switch code {
	case ExitTransport, ExitLocked, ExitLaunch, ExitNotRunning, ExitUsage, ExitInterrupted:
		return true
	}
	return false
}
