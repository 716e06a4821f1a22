package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points the user config at a temp dir and runs from an empty cwd.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RESIDENT_CONFIG_PATH", filepath.Join(dir, "config.yaml"))
	for _, key := range []string{"RESIDENT_WORKSPACE", "RESIDENT_ENV_FILE", "RESIDENT_WORKER", "RESIDENT_ONESHOT", "RESIDENT_SHELL", "RESIDENT_COMMAND_TIMEOUT", "RESIDENT_PORT"} {
		t.Setenv(key, "")
	}
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "." {
		t.Errorf("Workspace = %q, want %q", cfg.Workspace, ".")
	}
	if cfg.Timeouts.Command.Std() != 10*time.Minute {
		t.Errorf("command timeout = %v, want 10m", cfg.Timeouts.Command.Std())
	}
	if cfg.Timeouts.Start.Std() != 60*time.Second || cfg.Timeouts.Poll.Std() != time.Second {
		t.Errorf("start/poll = %v/%v", cfg.Timeouts.Start.Std(), cfg.Timeouts.Poll.Std())
	}
	if len(cfg.Worker.Command) == 0 || cfg.Worker.Command[0] != "{self}" {
		t.Errorf("default worker command = %v", cfg.Worker.Command)
	}
}

func TestLoad_UserFileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	userCfg := `
workspace: build/proj
env_file: /opt/tools/settings.sh
lock_globs: ["*.xpr.lck"]
worker:
  command: [vivado, -mode, tcl, -source, server.tcl, -tclargs, "{workspace}"]
  pty: true
timeouts:
  command: 20m
  start: "90"
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(userCfg), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "build/proj" {
		t.Errorf("Workspace = %q", cfg.Workspace)
	}
	if cfg.EnvFile != "/opt/tools/settings.sh" {
		t.Errorf("EnvFile = %q", cfg.EnvFile)
	}
	if len(cfg.LockGlobs) != 1 || cfg.LockGlobs[0] != "*.xpr.lck" {
		t.Errorf("LockGlobs = %v", cfg.LockGlobs)
	}
	if cfg.Worker.Command[0] != "vivado" || !cfg.Worker.PTY {
		t.Errorf("Worker = %+v", cfg.Worker)
	}
	if cfg.Worker.Shell != "sh" {
		t.Errorf("unset field lost its default: shell = %q", cfg.Worker.Shell)
	}
	if cfg.Timeouts.Command.Std() != 20*time.Minute {
		t.Errorf("command timeout = %v", cfg.Timeouts.Command.Std())
	}
	if cfg.Timeouts.Start.Std() != 90*time.Second {
		t.Errorf("start timeout = %v", cfg.Timeouts.Start.Std())
	}
}

func TestLoad_ProjectFileOverridesUserFile(t *testing.T) {
	dir := isolate(t)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("workspace: from-user\n"), 0644)
	os.WriteFile(filepath.Join(dir, ProjectFile), []byte("workspace: from-project\n"), 0644)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "from-project" {
		t.Errorf("Workspace = %q, want from-project", cfg.Workspace)
	}
}

func TestLoad_EnvVarOverridesFiles(t *testing.T) {
	dir := isolate(t)
	os.WriteFile(filepath.Join(dir, ProjectFile), []byte("workspace: from-project\n"), 0644)
	t.Setenv("RESIDENT_WORKSPACE", "from-env")
	t.Setenv("RESIDENT_WORKER", "tclsh server.tcl {workspace}")
	t.Setenv("RESIDENT_COMMAND_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Workspace != "from-env" {
		t.Errorf("Workspace = %q, want from-env", cfg.Workspace)
	}
	if len(cfg.Worker.Command) != 3 || cfg.Worker.Command[0] != "tclsh" {
		t.Errorf("Worker.Command = %v", cfg.Worker.Command)
	}
	if cfg.Timeouts.Command.Std() != 45*time.Second {
		t.Errorf("command timeout = %v", cfg.Timeouts.Command.Std())
	}
}

func TestLoad_InvalidDurationFails(t *testing.T) {
	dir := isolate(t)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("timeouts:\n  command: soon\n"), 0644)

	if _, err := Load(); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestWorkerLogPath_IsPerUser(t *testing.T) {
	path := WorkerLogPath()
	if filepath.Dir(path) != filepath.Clean(os.TempDir()) {
		t.Errorf("WorkerLogPath() = %q, want it under %q", path, os.TempDir())
	}
	if filepath.Base(path) == "resident.log" {
		t.Errorf("WorkerLogPath() should embed the uid: %q", path)
	}
}

func TestClientLogPath_EnvOverride(t *testing.T) {
	t.Setenv("RESIDENT_LOG_PATH", "/tmp/custom-client.log")
	if got := ClientLogPath(); got != "/tmp/custom-client.log" {
		t.Errorf("ClientLogPath() = %q", got)
	}
}

func TestLoad_RejectsNonPositiveLauncherTimings(t *testing.T) {
	for _, body := range []string{
		"timeouts:\n  poll: 0\n",
		"timeouts:\n  poll: -1s\n",
		"timeouts:\n  start: 0s\n",
		"timeouts:\n  ping: 0\n",
	} {
		dir := isolate(t)
		os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0644)

		if _, err := Load(); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

func TestLoad_ZeroCommandTimeoutIsAllowed(t *testing.T) {
	dir := isolate(t)
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("timeouts:\n  command: 0\n"), 0644)

	if _, err := Load(); err != nil {
		t.Errorf("Load error: %v", err)
	}
}

func TestLoad_WorkerArgvList(t *testing.T) {
	isolate(t)
	t.Setenv("RESIDENT_WORKER", `["/opt/my tools/bin/worker", "--workspace", "{workspace}"]`)
	t.Setenv("RESIDENT_ONESHOT", "worker -batch {script}")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(cfg.Worker.Command) != 3 || cfg.Worker.Command[0] != "/opt/my tools/bin/worker" {
		t.Errorf("Command = %q", cfg.Worker.Command)
	}
	if len(cfg.Worker.OneShot) != 3 || cfg.Worker.OneShot[2] != "{script}" {
		t.Errorf("OneShot = %q", cfg.Worker.OneShot)
	}
}

func TestLoad_MalformedWorkerArgvList(t *testing.T) {
	isolate(t)
	t.Setenv("RESIDENT_WORKER", `["unterminated`)

	if _, err := Load(); err == nil {
		t.Error("expected error for malformed list")
	}
}
