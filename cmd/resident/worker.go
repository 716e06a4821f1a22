package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/victorarias/resident/internal/daemon"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/protocol"
)

// newWorkerCommand is the built-in worker that resident launches when no
// other worker is configured.
func newWorkerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "built-in reference worker",
		Hidden: true,
		Args:   noArgs,
	}

	var port int
	serve := &cobra.Command{
		Use:   "serve",
		Short: "serve the workspace over the line protocol until QUIT",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Server.Port
			}

			// stdout is the shared worker log.
			logger := logging.NewWriter(os.Stdout, fmt.Sprintf("worker %d", os.Getpid()))
			srv := daemon.New(ws, port, daemon.NewShellExecutor(a.cfg.Worker.Shell, ws, logger), logger)
			if err := srv.Listen(); err != nil {
				return &protocol.LaunchError{Message: "worker cannot listen", Err: err}
			}

			ctx := cmd.Context()
			go func() {
				select {
				case <-ctx.Done():
					logger.Info("signal received")
					srv.Stop()
				case <-srv.Done():
				}
			}()
			return srv.Serve()
		},
	}
	serve.Flags().IntVar(&port, "port", 0, "listen port (0 picks a free one)")

	execCmd := &cobra.Command{
		Use:   "exec FILE",
		Short: "run one script and exit with its status",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("%s needs exactly one FILE", cmd.CommandPath())
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}

			ex := daemon.NewShellExecutor(a.cfg.Worker.Shell, ws, nil)
			ex.IgnoreInterruptFlag = true
			err = ex.Execute(cmd.Context(), string(script), func(line string) {
				fmt.Fprintln(a.stdout, line)
			})
			return execStatus(err)
		},
	}

	cmd.AddCommand(serve, execCmd)
	return cmd
}

// execStatus passes the script's own exit code through.
func execStatus(err error) error {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, daemon.ErrInterrupted):
		return &exitStatus{code: protocol.ExitInterrupted}
	case errors.As(err, &exitErr):
		code := exitErr.ExitCode()
		if code <= 0 {
			code = protocol.ExitRemote
		}
		return &exitStatus{code: code}
	}
	return err
}
