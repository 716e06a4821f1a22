// Package workercmd turns a configured worker argv template into an
// exec.Cmd, optionally sourcing an environment script first.
package workercmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/pathutil"
	"github.com/victorarias/resident/internal/protocol"
)

// Vars are substituted into argv templates.
type Vars struct {
	Workspace string // {workspace}
	Script    string // {script}
	Self      string // {self}; defaults to os.Executable()
}

// Expand replaces placeholders in every argument.
func Expand(argv []string, v Vars) []string {
	r := strings.NewReplacer(
		"{workspace}", v.Workspace,
		"{script}", v.Script,
		"{self}", v.Self,
	)
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = r.Replace(arg)
	}
	return out
}

// Command builds the worker command. With an env file the command runs under
// a login bash that sources it first; otherwise argv[0] must be on the
// widened search path.
func Command(argv []string, v Vars, envFile string) (*exec.Cmd, error) {
	if len(argv) == 0 {
		return nil, &protocol.LaunchError{Message: "no worker command configured"}
	}
	if v.Self == "" {
		if self, err := os.Executable(); err == nil {
			v.Self = self
		}
	}
	args := Expand(argv, v)

	if envFile != "" {
		if _, err := os.Stat(envFile); err != nil {
			return nil, &protocol.LaunchError{
				Message: fmt.Sprintf("environment file %s not readable", envFile),
				Err:     err,
			}
		}
		script := fmt.Sprintf("source %s && exec %s", Quote(envFile), QuoteArgs(args))
		return exec.Command("bash", "-lc", script), nil
	}

	path := SearchPath()
	resolved, err := pathutil.LookPath(args[0], path)
	if err != nil {
		return nil, NotFound(args[0], err)
	}
	cmd := exec.Command(resolved, args[1:]...)
	cmd.Args[0] = args[0]
	cmd.Env = append(os.Environ(), "PATH="+path)
	return cmd, nil
}

// SearchPath is the caller's PATH widened with the common tool install
// directories.
func SearchPath() string {
	return pathutil.Widen(os.Getenv("PATH"), pathutil.CommonDirs())
}

// NotFound is the launch error for a worker binary missing from PATH.
func NotFound(binary string, err error) *protocol.LaunchError {
	name := config.BinaryName()
	return &protocol.LaunchError{
		Message: fmt.Sprintf("worker %q not found in PATH", binary),
		Err:     err,
		Hints: []string{
			"Source the tool's environment first, e.g. source /opt/tools/settings64.sh",
			fmt.Sprintf("Or pass it explicitly: %s --env-file /path/to/settings.sh ...", name),
		},
	}
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuoteArgs quotes and joins argv for a POSIX shell.
func QuoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}
