package lifecycle

import (
	"github.com/victorarias/resident/internal/client"
	"github.com/victorarias/resident/internal/workspace"
)

// ServerInfo is a point-in-time view of a workspace. Port is non-zero iff
// Reachable. It is never cached.
type ServerInfo struct {
	Reachable        bool
	Port             int
	ExternallyLocked bool
	LockPath         string
	Workspace        string
}

// Addr returns the worker address; empty when unreachable.
func (i ServerInfo) Addr() string {
	if !i.Reachable {
		return ""
	}
	return client.Addr(i.Port)
}

// FindServer reports whether a worker answers on the recorded port. A port
// file whose worker does not answer is stale and is removed here; this is the
// only place that deletes it for staleness.
func (m *Manager) FindServer(ws *workspace.Workspace) ServerInfo {
	info := ServerInfo{Workspace: ws.Dir}
	info.LockPath, info.ExternallyLocked = ws.LockIndicator()

	if !ws.HasPortFile() {
		return info
	}

	port, ok := ws.ReadPort()
	if !ok {
		m.Logger.Infof("removing unreadable port file %s", ws.PortPath())
		ws.RemovePort()
		return info
	}

	err := client.ForPort(port).Ping(m.PingTimeout)
	if err == nil {
		info.Reachable = true
		info.Port = port
		return info
	}

	m.Logger.Infof("removing stale port file %s (port %d: %v)", ws.PortPath(), port, err)
	ws.RemovePort()
	return info
}
