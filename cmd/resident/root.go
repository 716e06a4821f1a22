package main

import (
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/dispatch"
	"github.com/victorarias/resident/internal/lifecycle"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/oneshot"
	"github.com/victorarias/resident/internal/workspace"
)

// app carries what every command shares: the merged configuration, the
// global flags and the standard streams.
type app struct {
	cfg    *config.Config
	logger *logging.Logger

	workspace string
	envFile   string
	mode      string
	timeout   time.Duration
	quiet     bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   config.BinaryName(),
		Short: "keep a slow-starting worker warm and send it scripts",
		Long: `resident keeps an expensive worker process running in the background for a
workspace and submits scripts to it over a local line protocol. When no
server can be used it runs the script through a one-shot worker instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVarP(&a.workspace, "workspace", "w", "", "workspace directory (default from config, else .)")
	flags.StringVar(&a.envFile, "env-file", "", "script to source before starting a worker")
	flags.StringVar(&a.mode, "mode", "", "execution mode: "+strings.Join(dispatch.ModeNames(), ", ")+" (default auto)")
	flags.DurationVar(&a.timeout, "timeout", 0, "overall command timeout (default from config)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress lifecycle messages")

	root.AddCommand(newRunCommand(a), newServerCommand(a), newWorkerCommand(a))
	return root
}

// load merges configuration with the global flags. Flags win.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("workspace") {
		cfg.Workspace = a.workspace
	}
	if flags.Changed("env-file") {
		cfg.EnvFile = a.envFile
	}
	if flags.Changed("timeout") {
		cfg.Timeouts.Command = config.Duration(a.timeout)
	}
	if flags.Changed("mode") {
		cfg.Mode = a.mode
	}
	a.cfg = cfg
	if a.logger == nil {
		a.logger = logging.Open()
	}
	return nil
}

func (a *app) openWorkspace() (*workspace.Workspace, error) {
	return workspace.New(a.cfg.Workspace, a.cfg.LockGlobs)
}

func (a *app) manager() *lifecycle.Manager {
	return lifecycle.NewManager(a.cfg, a.stderr, a.logger)
}

func (a *app) dispatcher(ws *workspace.Workspace) *dispatch.Dispatcher {
	return &dispatch.Dispatcher{
		Workspace: ws,
		Lifecycle: a.manager(),
		OneShot:   oneshot.NewRunner(a.cfg, a.logger),
		Send:      dispatch.ClientSend,
		Out:       a.stderr,
		Logger:    a.logger,
	}
}

func (a *app) launchOptions() lifecycle.LaunchOptions {
	return lifecycle.LaunchOptions{EnvFile: a.cfg.EnvFile, Quiet: a.quiet}
}

// maxArgs is cobra.MaximumNArgs reported as a usage error.
func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) > n {
			return usagef("%s accepts at most %d argument(s), received %d", cmd.CommandPath(), n, len(args))
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return usagef("unknown command %q for %q", args[0], cmd.CommandPath())
	}
	return nil
}
