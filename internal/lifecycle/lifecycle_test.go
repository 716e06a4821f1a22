package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/victorarias/resident/internal/daemon"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workspace"
)

const helperEnv = "RESIDENT_LIFECYCLE_HELPER_WORKER"

// TestMain lets the test binary double as a worker: with helperEnv set it
// serves the workspace named by its first argument.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" && len(os.Args) > 1 {
		ws, err := workspace.New(os.Args[1], nil)
		if err != nil {
			os.Exit(3)
		}
		srv := daemon.New(ws, 0, daemon.NewShellExecutor("sh", ws, nil), nil)
		if err := srv.Start(); err != nil {
			os.Exit(4)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir(), []string{"*.lck", "*.xpr.lck"})
	if err != nil {
		t.Fatal(err)
	}
	return ws
}

func newTestManager(t *testing.T, worker ...string) *Manager {
	t.Helper()
	if len(worker) == 0 {
		worker = []string{"definitely-not-a-real-worker-binary"}
	}
	return &Manager{
		WorkerCommand: worker,
		LogPath:       filepath.Join(t.TempDir(), "worker.log"),
		PingTimeout:   500 * time.Millisecond,
		QuitTimeout:   time.Second,
		QuitSettle:    50 * time.Millisecond,
		PollInterval:  50 * time.Millisecond,
		StartTimeout:  5 * time.Second,
	}
}

// serveInProcess runs a reference worker for ws inside the test process.
func serveInProcess(t *testing.T, ws *workspace.Workspace) *daemon.Server {
	t.Helper()
	srv := daemon.New(ws, 0, daemon.NewShellExecutor("sh", ws, nil), nil)
	if err := srv.Listen(); err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv
}

// deadPort returns a loopback port with nothing listening.
func deadPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestFindServer_NoPortFile(t *testing.T) {
	ws := newTestWorkspace(t)
	info := newTestManager(t).FindServer(ws)
	if info.Reachable || info.Port != 0 || info.ExternallyLocked {
		t.Errorf("info = %+v", info)
	}
}

func TestFindServer_Reachable(t *testing.T) {
	ws := newTestWorkspace(t)
	srv := serveInProcess(t, ws)

	info := newTestManager(t).FindServer(ws)
	if !info.Reachable || info.Port != srv.Port() {
		t.Fatalf("info = %+v, want port %d", info, srv.Port())
	}
	if info.Addr() == "" {
		t.Error("Addr should be set when reachable")
	}
}

func TestFindServer_RemovesStalePortFile(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WritePort(deadPort(t))

	info := newTestManager(t).FindServer(ws)
	if info.Reachable || info.Port != 0 {
		t.Errorf("info = %+v", info)
	}
	if ws.HasPortFile() {
		t.Error("stale port file should be removed")
	}
}

func TestFindServer_RemovesGarbagePortFile(t *testing.T) {
	ws := newTestWorkspace(t)
	os.WriteFile(ws.PortPath(), []byte("not a port\n"), 0644)

	if info := newTestManager(t).FindServer(ws); info.Reachable {
		t.Errorf("info = %+v", info)
	}
	if ws.HasPortFile() {
		t.Error("unparsable port file should be removed")
	}
}

func TestFindServer_Idempotent(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WritePort(deadPort(t))
	var logBuf bytes.Buffer
	m := newTestManager(t)
	m.Logger = logging.NewWriter(&logBuf, "")

	first := m.FindServer(ws)
	if ws.HasPortFile() {
		t.Fatal("first call should remove the stale port file")
	}
	second := m.FindServer(ws)
	if first.Reachable || second.Reachable || first.Port != second.Port {
		t.Errorf("results differ: %+v then %+v", first, second)
	}
	if n := strings.Count(logBuf.String(), "removing stale port file"); n != 1 {
		t.Errorf("stale port file removed %d times, want 1:\n%s", n, logBuf.String())
	}
}

func TestFindServer_ReportsLockIndicator(t *testing.T) {
	ws := newTestWorkspace(t)
	lockPath := filepath.Join(ws.Dir, "design.xpr.lck")
	os.WriteFile(lockPath, nil, 0644)

	info := newTestManager(t).FindServer(ws)
	if !info.ExternallyLocked || info.Reachable {
		t.Fatalf("info = %+v", info)
	}
	if _, err := os.Stat(lockPath); err != nil {
		t.Error("lock indicator must never be removed")
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	ws := newTestWorkspace(t)
	serveInProcess(t, ws)

	// The worker command is bogus; Start must not need it.
	if err := newTestManager(t).Start(context.Background(), ws, LaunchOptions{Quiet: true}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
}

func TestStart_LockedWorkspace(t *testing.T) {
	ws := newTestWorkspace(t)
	os.WriteFile(filepath.Join(ws.Dir, "project.lck"), nil, 0644)

	err := newTestManager(t).Start(context.Background(), ws, LaunchOptions{Quiet: true})

	var conflict *protocol.LockConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected LockConflictError, got %v", err)
	}
	if !strings.HasSuffix(conflict.LockPath, "project.lck") {
		t.Errorf("LockPath = %q", conflict.LockPath)
	}
}

func TestStart_MissingBinary(t *testing.T) {
	ws := newTestWorkspace(t)
	err := newTestManager(t).Start(context.Background(), ws, LaunchOptions{Quiet: true})

	var launch *protocol.LaunchError
	if !errors.As(err, &launch) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "--env-file") {
		t.Errorf("error should suggest --env-file: %v", err)
	}
}

func TestStart_WorkerExitsEarly(t *testing.T) {
	ws := newTestWorkspace(t)
	m := newTestManager(t, "sh", "-c", "echo boom; exit 7")

	started := time.Now()
	err := m.Start(context.Background(), ws, LaunchOptions{Quiet: true})

	var launch *protocol.LaunchError
	if !errors.As(err, &launch) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if !strings.Contains(launch.Error(), "exit status 7") {
		t.Errorf("error = %v", err)
	}
	if time.Since(started) > 3*time.Second {
		t.Error("early exit should not wait for the start timeout")
	}

	log, _ := os.ReadFile(m.LogPath)
	if !strings.Contains(string(log), "boom") {
		t.Errorf("worker output should land in the log, got %q", log)
	}
}

func TestStart_NeverReady(t *testing.T) {
	ws := newTestWorkspace(t)
	m := newTestManager(t, "sleep", "2")
	m.StartTimeout = 300 * time.Millisecond

	err := m.Start(context.Background(), ws, LaunchOptions{Quiet: true})

	var launch *protocol.LaunchError
	if !errors.As(err, &launch) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if launch.LogPath != m.LogPath {
		t.Errorf("LogPath = %q, want %q", launch.LogPath, m.LogPath)
	}
	if ws.HasPortFile() {
		t.Error("port file should be cleaned up after a failed start")
	}
}

func TestStart_ZeroPollIntervalFallsBack(t *testing.T) {
	ws := newTestWorkspace(t)
	m := newTestManager(t, "sh", "-c", "exit 7")
	m.PollInterval = 0
	m.StartTimeout = 0

	err := m.Start(context.Background(), ws, LaunchOptions{Quiet: true})

	var launch *protocol.LaunchError
	if !errors.As(err, &launch) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if !strings.Contains(err.Error(), "exit status 7") {
		t.Errorf("error = %v", err)
	}
}

func TestStart_Cancelled(t *testing.T) {
	ws := newTestWorkspace(t)
	m := newTestManager(t, "sleep", "2")

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := m.Start(ctx, ws, LaunchOptions{Quiet: true}); !errors.Is(err, protocol.ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
}

func TestStart_WaitsForConcurrentLauncher(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.Ensure()

	lock := ws.SpawnLock()
	if ok, err := lock.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer lock.Unlock()

	// The other launcher's worker comes up a little later.
	srv := daemon.New(ws, 0, daemon.NewShellExecutor("sh", ws, nil), nil)
	t.Cleanup(srv.Stop)
	go func() {
		time.Sleep(200 * time.Millisecond)
		if err := srv.Listen(); err == nil {
			srv.Serve()
		}
	}()

	// The bogus worker command proves this launcher never spawns.
	if err := newTestManager(t).Start(context.Background(), ws, LaunchOptions{Quiet: true}); err != nil {
		t.Fatalf("Start error: %v", err)
	}
}

func TestStart_SpawnsWorker(t *testing.T) {
	ws := newTestWorkspace(t)
	t.Setenv(helperEnv, "1")
	m := newTestManager(t, os.Args[0], "{workspace}")

	if err := m.Start(context.Background(), ws, LaunchOptions{Quiet: true}); err != nil {
		log, _ := os.ReadFile(m.LogPath)
		t.Fatalf("Start error: %v\nlog:\n%s", err, log)
	}
	defer m.Stop(ws, true)

	info := m.FindServer(ws)
	if !info.Reachable {
		t.Fatalf("worker not reachable after Start: %+v", info)
	}

	// A second Start is a no-op.
	if err := m.Start(context.Background(), ws, LaunchOptions{Quiet: true}); err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	if again := m.FindServer(ws); again.Port != info.Port {
		t.Errorf("port changed from %d to %d", info.Port, again.Port)
	}

	if err := m.Stop(ws, true); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if ws.HasPortFile() {
		t.Error("port file should be gone after Stop")
	}
}

func TestStop_NotRunning(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := newTestManager(t).Stop(ws, true); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestStop_StalePortFile(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.WritePort(deadPort(t))

	if err := newTestManager(t).Stop(ws, true); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if ws.HasPortFile() {
		t.Error("stale port file should be removed")
	}
}

func TestStop_RunningWorker(t *testing.T) {
	ws := newTestWorkspace(t)
	srv := serveInProcess(t, ws)

	var out strings.Builder
	m := newTestManager(t)
	m.Out = &out
	if err := m.Stop(ws, false); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	select {
	case <-srv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	if ws.HasPortFile() {
		t.Error("port file should be removed")
	}
	if !strings.Contains(out.String(), "Server stopped") {
		t.Errorf("output = %q", out.String())
	}
}

func TestLockConflict_Hints(t *testing.T) {
	ws := newTestWorkspace(t)
	m := newTestManager(t)
	m.GUIHint = "source /opt/resident/server.tcl"

	err := m.LockConflict(ws, filepath.Join(ws.Dir, "x.lck"), true)
	msg := err.Error()
	for _, want := range []string{"/opt/resident/server.tcl", "close the interactive instance", "--mode oneshot"} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in:\n%s", want, msg)
		}
	}
}
