package lifecycle

import (
	"context"
	"time"

	"github.com/victorarias/resident/internal/client"
	"github.com/victorarias/resident/internal/workspace"
)

// Stop shuts down the workspace's worker. It is idempotent: with no
// reachable worker it only clears a stale port file.
func (m *Manager) Stop(ws *workspace.Workspace, quiet bool) error {
	info := m.FindServer(ws)
	if !info.Reachable {
		ws.RemovePort()
		m.say(quiet, "Server not running")
		return nil
	}

	m.say(quiet, "Stopping server (port %d)...", info.Port)
	if err := client.ForPort(info.Port).Quit(m.QuitTimeout); err != nil {
		m.Logger.Errorf("quit %s: %v", info.Addr(), err)
	}
	time.Sleep(m.QuitSettle)

	ws.RemovePort()
	m.say(quiet, "Server stopped")
	return nil
}

// Restart stops the worker if one is running and starts a fresh one.
func (m *Manager) Restart(ctx context.Context, ws *workspace.Workspace, opts LaunchOptions) error {
	if err := m.Stop(ws, opts.Quiet); err != nil {
		return err
	}
	return m.Start(ctx, ws, opts)
}

// Status is FindServer under the name the CLI uses.
func (m *Manager) Status(ws *workspace.Workspace) ServerInfo {
	return m.FindServer(ws)
}
