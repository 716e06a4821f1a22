package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/victorarias/resident/internal/dispatch"
	"github.com/victorarias/resident/internal/render"
)

func newRunCommand(a *app) *cobra.Command {
	var script string

	cmd := &cobra.Command{
		Use:   "run [FILE|-]",
		Short: "run a script through the workspace worker",
		Long: `Run a script through the workspace worker. The script comes from -c, from
FILE, or from stdin when FILE is - or omitted.

Lines starting with PROGRESS: are shown as a live status line and are not
part of the command output.`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := a.readPayload(script, args)
			if err != nil {
				return err
			}
			mode, err := dispatch.ParseMode(a.cfg.Mode)
			if err != nil {
				return &usageError{err: err}
			}
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}

			r := a.renderer()
			_, runErr := a.dispatcher(ws).Run(cmd.Context(), payload, dispatch.Request{
				Mode:           mode,
				EnvFile:        a.cfg.EnvFile,
				Quiet:          a.quiet,
				ConnectTimeout: a.cfg.Timeouts.Connect.Std(),
				Timeout:        a.cfg.Timeouts.Command.Std(),
				InterruptGrace: a.cfg.Timeouts.InterruptGrace.Std(),
				OnLine:         r.Line,
				OnProgress:     r.Progress,
			})
			r.Close()
			return runErr
		},
	}
	cmd.Flags().StringVarP(&script, "command", "c", "", "script text to run")
	return cmd
}

func (a *app) readPayload(script string, args []string) (string, error) {
	if script != "" {
		if len(args) > 0 {
			return "", usagef("use either -c or FILE, not both")
		}
		return script, nil
	}

	if len(args) == 1 && args[0] != "-" {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	if f, ok := a.stdin.(*os.File); ok && len(args) == 0 && term.IsTerminal(int(f.Fd())) {
		return "", usagef("no script given (use -c, FILE or pipe one on stdin)")
	}
	data, err := io.ReadAll(a.stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (a *app) renderer() render.Renderer {
	if f, ok := a.stdout.(*os.File); ok {
		return render.New(f)
	}
	return render.NewPlain(a.stdout)
}
