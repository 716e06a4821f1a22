package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/victorarias/resident/internal/client"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workercmd"
	"github.com/victorarias/resident/internal/workspace"
)

// LaunchOptions are per-call launcher inputs.
type LaunchOptions struct {
	// EnvFile is sourced before the worker starts.
	EnvFile string
	Quiet   bool
}

// Start makes sure a worker daemon serves ws. It returns nil when one is
// already reachable, a *protocol.LockConflictError when an interactive
// instance holds the workspace, and a *protocol.LaunchError when the worker
// cannot be started or never becomes reachable.
func (m *Manager) Start(ctx context.Context, ws *workspace.Workspace, opts LaunchOptions) error {
	info := m.FindServer(ws)
	if info.Reachable {
		m.say(opts.Quiet, "Server already running (port %d)", info.Port)
		return nil
	}
	if info.ExternallyLocked {
		return m.LockConflict(ws, info.LockPath, false)
	}

	if err := ws.Ensure(); err != nil {
		return &protocol.LaunchError{Message: "cannot create workspace " + ws.Dir, Err: err}
	}

	// Only one launcher spawns per workspace; the others wait for its worker.
	lock := ws.SpawnLock()
	locked, err := lock.TryLock()
	if err != nil {
		m.Logger.Errorf("spawn lock %s: %v", lock.Path(), err)
	}
	if err == nil && !locked {
		m.say(opts.Quiet, "Another process is starting the server, waiting...")
		return m.waitReady(ctx, ws, nil, opts.Quiet)
	}
	if locked {
		defer lock.Unlock()
		// A competing launcher may have finished between our check and the lock.
		if info := m.FindServer(ws); info.Reachable {
			return nil
		}
	}

	ws.RemovePort()

	exited, err := m.spawn(ws, opts)
	if err != nil {
		return err
	}
	return m.waitReady(ctx, ws, exited, opts.Quiet)
}

// spawn starts the worker detached, with output appended to the shared log.
// The returned channel yields the worker's exit if it dies while we wait.
func (m *Manager) spawn(ws *workspace.Workspace, opts LaunchOptions) (<-chan error, error) {
	cmd, err := workercmd.Command(m.WorkerCommand, workercmd.Vars{Workspace: ws.Dir}, opts.EnvFile)
	if err != nil {
		return nil, err
	}

	logFile, err := os.OpenFile(m.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, &protocol.LaunchError{Message: "cannot open worker log", LogPath: m.LogPath, Err: err}
	}
	defer logFile.Close()

	cmd.Dir = ws.Dir
	cmd.Stdin = nil
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = workercmd.Detached()

	m.say(opts.Quiet, "Starting server...")
	if err := cmd.Start(); err != nil {
		return nil, &protocol.LaunchError{Message: "cannot start worker", LogPath: m.LogPath, Err: err}
	}
	m.Logger.Infof("spawned worker pid %d for %s: %v", cmd.Process.Pid, ws.Dir, cmd.Args)

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()
	return exited, nil
}

// waitReady polls for the port file and a successful ping.
func (m *Manager) waitReady(ctx context.Context, ws *workspace.Workspace, exited <-chan error, quiet bool) error {
	poll, limit := m.PollInterval, m.StartTimeout
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if limit <= 0 {
		limit = defaultStartTimeout
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	deadline := time.NewTimer(limit)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return protocol.ErrInterrupted

		case err := <-exited:
			ws.RemovePort()
			return &protocol.LaunchError{
				Message: "worker exited during startup",
				LogPath: m.LogPath,
				Err:     exitReason(err),
			}

		case <-deadline.C:
			ws.RemovePort()
			m.say(quiet, "Failed to start server. Check log: %s", m.LogPath)
			return &protocol.LaunchError{
				Message: fmt.Sprintf("worker did not become reachable within %s", limit),
				LogPath: m.LogPath,
			}

		case <-ticker.C:
			port, ok := ws.ReadPort()
			if !ok {
				continue
			}
			if err := client.ForPort(port).Ping(m.PingTimeout); err != nil {
				m.Logger.Debugf("worker on port %d not ready: %v", port, err)
				continue
			}
			m.say(quiet, "Server started (port %d)", port)
			return nil
		}
	}
}

func exitReason(err error) error {
	if err == nil {
		return fmt.Errorf("exit status 0")
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("exit status %d", exitErr.ExitCode())
	}
	return err
}
