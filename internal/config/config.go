package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/victorarias/resident/internal/protocol"
)

var binaryName string

func init() {
	binaryName = filepath.Base(os.Args[0])
}

// BinaryName returns the name of the running binary (e.g., "resident")
func BinaryName() string {
	return binaryName
}

// SetBinaryName overrides the binary name (for testing)
func SetBinaryName(name string) {
	binaryName = name
}

// Duration decodes YAML strings such as "90s" or "10m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Worker describes how to run the worker binary. Command and OneShot are argv
// templates; {workspace}, {script} and {self} are substituted at launch.
type Worker struct {
	Command []string `yaml:"command"`
	OneShot []string `yaml:"oneshot"`
	Shell   string   `yaml:"shell"`
	PTY     bool     `yaml:"pty"`
}

type Timeouts struct {
	Connect        Duration `yaml:"connect"`
	Command        Duration `yaml:"command"`
	Ping           Duration `yaml:"ping"`
	Start          Duration `yaml:"start"`
	Poll           Duration `yaml:"poll"`
	InterruptGrace Duration `yaml:"interrupt_grace"`
}

type Server struct {
	// Port the reference worker listens on; 0 picks a free port.
	Port int `yaml:"port"`
}

// Config is the merged configuration.
type Config struct {
	Workspace string   `yaml:"workspace"`
	EnvFile   string   `yaml:"env_file"`
	Mode      string   `yaml:"mode"`
	LockGlobs []string `yaml:"lock_globs"`
	GUIHint   string   `yaml:"gui_hint"`
	Worker    Worker   `yaml:"worker"`
	Timeouts  Timeouts `yaml:"timeouts"`
	Server    Server   `yaml:"server"`
}

// ProjectFile is the per-project config file name, looked up in the working
// directory.
const ProjectFile = ".resident.yaml"

// Default returns the built-in configuration. The default worker is this
// binary's own reference worker.
func Default() *Config {
	return &Config{
		Workspace: ".",
		LockGlobs: []string{"*.lck", "*.xpr.lck"},
		Worker: Worker{
			Command: []string{"{self}", "worker", "serve", "--workspace", "{workspace}"},
			OneShot: []string{"{self}", "worker", "exec", "--workspace", "{workspace}", "{script}"},
			Shell:   "sh",
		},
		Timeouts: Timeouts{
			Connect:        Duration(protocol.DefaultConnectTimeout),
			Command:        Duration(protocol.DefaultCommandTimeout),
			Ping:           Duration(protocol.DefaultPingTimeout),
			Start:          Duration(60 * time.Second),
			Poll:           Duration(time.Second),
			InterruptGrace: Duration(protocol.DefaultInterruptGrace),
		},
	}
}

// Load builds a fresh configuration.
// Priority: env vars > project file > user file > defaults
func Load() (*Config, error) {
	cfg := Default()

	// 1. User-level config
	if err := mergeFile(Path(), cfg); err != nil {
		return nil, fmt.Errorf("load user config: %w", err)
	}

	// 2. Project-level config, overriding user-level
	if wd, err := os.Getwd(); err == nil {
		if err := mergeFile(filepath.Join(wd, ProjectFile), cfg); err != nil {
			return nil, fmt.Errorf("load project config: %w", err)
		}
	}

	// 3. Environment variables (highest priority)
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work. Connect, command and interrupt
// grace timeouts fall back to their defaults when not positive; the launcher
// timings have no such fallback.
func (c *Config) Validate() error {
	for _, t := range []struct {
		name string
		d    Duration
	}{
		{"timeouts.poll", c.Timeouts.Poll},
		{"timeouts.start", c.Timeouts.Start},
		{"timeouts.ping", c.Timeouts.Ping},
	} {
		if t.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", t.name, t.d.Std())
		}
	}
	return nil
}

// mergeFile decodes path over cfg. A missing file is not an error.
func mergeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// Fields present in the YAML replace what is already set.
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("RESIDENT_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("RESIDENT_ENV_FILE"); v != "" {
		cfg.EnvFile = v
	}
	if v := os.Getenv("RESIDENT_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("RESIDENT_WORKER"); v != "" {
		argv, err := parseArgv(v)
		if err != nil {
			return fmt.Errorf("RESIDENT_WORKER: %w", err)
		}
		cfg.Worker.Command = argv
	}
	if v := os.Getenv("RESIDENT_ONESHOT"); v != "" {
		argv, err := parseArgv(v)
		if err != nil {
			return fmt.Errorf("RESIDENT_ONESHOT: %w", err)
		}
		cfg.Worker.OneShot = argv
	}
	if v := os.Getenv("RESIDENT_SHELL"); v != "" {
		cfg.Worker.Shell = v
	}
	if v := os.Getenv("RESIDENT_COMMAND_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("RESIDENT_COMMAND_TIMEOUT: %w", err)
		}
		cfg.Timeouts.Command = Duration(d)
	}
	if v := os.Getenv("RESIDENT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RESIDENT_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	return nil
}

// parseArgv reads an argv template from an environment variable. A value
// starting with "[" is a YAML flow list (["my tool", "{script}"]) so that
// arguments may contain spaces; anything else is split on whitespace.
func parseArgv(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") {
		return strings.Fields(v), nil
	}
	var argv []string
	if err := yaml.Unmarshal([]byte(v), &argv); err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv list")
	}
	return argv, nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// residentDir returns the base directory for resident files
func residentDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".resident")
	}
	return filepath.Join(home, ".resident")
}

// Path returns the user config file path
// Priority: RESIDENT_CONFIG_PATH env var > default
func Path() string {
	if envPath := os.Getenv("RESIDENT_CONFIG_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(residentDir(), "config.yaml")
}

// ClientLogPath returns the client diagnostic log path
func ClientLogPath() string {
	if envPath := os.Getenv("RESIDENT_LOG_PATH"); envPath != "" {
		return envPath
	}
	return filepath.Join(residentDir(), "client.log")
}

// WorkerLogPath returns the log shared by every worker the current user
// launches, whatever the workspace.
func WorkerLogPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("resident-%d.log", os.Getuid()))
}

// Log levels
const (
	LogError = iota
	LogWarn
	LogInfo
	LogDebug
	LogTrace
)

// DebugLevel returns the debug level from RESIDENT_DEBUG env var
func DebugLevel() int {
	switch os.Getenv("RESIDENT_DEBUG") {
	case "trace":
		return LogTrace
	case "debug":
		return LogDebug
	case "info":
		return LogInfo
	case "warn":
		return LogWarn
	case "1", "true":
		return LogDebug
	default:
		return LogError
	}
}
