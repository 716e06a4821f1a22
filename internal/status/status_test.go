package status

import (
	"strings"
	"testing"

	"github.com/victorarias/resident/internal/lifecycle"
)

func TestFormat_Running(t *testing.T) {
	result := Format(lifecycle.ServerInfo{Reachable: true, Port: 5123})
	if result != "● running on port 5123" {
		t.Errorf("got %q", result)
	}
}

func TestFormat_Locked(t *testing.T) {
	result := Format(lifecycle.ServerInfo{ExternallyLocked: true})
	if !strings.Contains(result, "locked by an interactive instance") {
		t.Errorf("got %q", result)
	}
}

func TestFormat_RunningBeatsLock(t *testing.T) {
	result := Format(lifecycle.ServerInfo{Reachable: true, Port: 1, ExternallyLocked: true})
	if !strings.HasPrefix(result, "● running") {
		t.Errorf("a serving interactive instance is running, got %q", result)
	}
}

func TestFormat_NotRunning(t *testing.T) {
	if result := Format(lifecycle.ServerInfo{}); result != "○ not running" {
		t.Errorf("got %q", result)
	}
}

func TestRender_IncludesPaths(t *testing.T) {
	result := Render(lifecycle.ServerInfo{Workspace: "/proj", ExternallyLocked: true, LockPath: "/proj/x.lck"})
	for _, want := range []string{"/proj", "/proj/x.lck"} {
		if !strings.Contains(result, want) {
			t.Errorf("missing %q in %q", want, result)
		}
	}
}
