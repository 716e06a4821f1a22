// Package status formats a workspace's daemon state for humans.
package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/victorarias/resident/internal/lifecycle"
)

var (
	runningStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	lockedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	stoppedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

// Format returns the one-line state of a workspace.
func Format(info lifecycle.ServerInfo) string {
	switch {
	case info.Reachable:
		return fmt.Sprintf("● running on port %d", info.Port)
	case info.ExternallyLocked:
		return "◐ locked by an interactive instance but not serving"
	default:
		return "○ not running"
	}
}

// Render is Format with color and the workspace path underneath.
func Render(info lifecycle.ServerInfo) string {
	line := Format(info)
	switch {
	case info.Reachable:
		line = runningStyle.Render(line)
	case info.ExternallyLocked:
		line = lockedStyle.Render(line)
	default:
		line = stoppedStyle.Render(line)
	}

	detail := "  workspace: " + info.Workspace
	if info.ExternallyLocked {
		detail += "\n  lock: " + info.LockPath
	}
	return line + "\n" + mutedStyle.Render(detail)
}
