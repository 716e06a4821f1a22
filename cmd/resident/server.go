package main

import (
	"fmt"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/status"
)

func newServerCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "manage the workspace worker daemon",
		Args:  noArgs,
	}

	start := &cobra.Command{
		Use:   "start",
		Short: "start the daemon if it is not running",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			return a.manager().Start(cmd.Context(), ws, a.launchOptions())
		},
	}

	stop := &cobra.Command{
		Use:   "stop",
		Short: "stop the daemon",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			return a.manager().Stop(ws, a.quiet)
		},
	}

	restart := &cobra.Command{
		Use:   "restart",
		Short: "stop the daemon and start a fresh one",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			return a.manager().Restart(cmd.Context(), ws, a.launchOptions())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show whether the daemon is running",
		Long:  "Show whether the daemon is running. Exits 0 only when it is.",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			info := a.manager().Status(ws)
			fmt.Fprintln(a.stdout, status.Render(info))
			switch {
			case info.Reachable:
				return nil
			case info.ExternallyLocked:
				return &exitStatus{code: protocol.ExitLocked}
			default:
				return &exitStatus{code: protocol.ExitNotRunning}
			}
		},
	}

	script := &cobra.Command{
		Use:   "script",
		Short: "explain how to serve this workspace from an interactive instance",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			return serverScript.Execute(a.stdout, scriptData{
				Binary:    config.BinaryName(),
				Hint:      a.cfg.GUIHint,
				PortFile:  ws.PortPath(),
				Interrupt: ws.InterruptPath(),
				Protocol: protocolData{
					EndCommand:  protocol.EndCommand,
					EndResponse: protocol.EndResponse,
					OK:          protocol.StatusOK,
					Error:       protocol.StatusError,
					Ping:        protocol.CmdPing,
					Pong:        protocol.PingAck,
					Quit:        protocol.CmdQuit,
					Progress:    protocol.ProgressPrefix,
				},
				LockFiles: a.cfg.LockGlobs,
			})
		},
	}

	cmd.AddCommand(start, stop, restart, statusCmd, script)
	return cmd
}

type protocolData struct {
	EndCommand, EndResponse, OK, Error, Ping, Pong, Quit, Progress string
}

type scriptData struct {
	Binary    string
	Hint      string
	PortFile  string
	Interrupt string
	LockFiles []string
	Protocol  protocolData
}

var serverScript = template.Must(template.New("script").Parse(`An interactive instance that holds this workspace (lock files: {{range $i, $g := .LockFiles}}{{if $i}}, {{end}}{{$g}}{{end}})
can serve {{.Binary}} commands itself.
{{if .Hint}}
To enable it, run this inside the instance:

  {{.Hint}}
{{else}}
Set gui_hint in the configuration to the command that enables it. Any server
works if it follows the protocol below.
{{end}}
Protocol (one TCP connection per command, on 127.0.0.1):
  - listen on a free port and write the port number to
      {{.PortFile}}
  - read lines until "{{.Protocol.EndCommand}}"; the lines before it are the script
  - "{{.Protocol.Ping}}" answers "{{.Protocol.Pong}}"; "{{.Protocol.Quit}}" shuts the server down
  - stream output lines, then "{{.Protocol.OK}}" or "{{.Protocol.Error}}", then "{{.Protocol.EndResponse}}"
  - lines starting with "{{.Protocol.Progress}}" are shown as live progress
  - stop the running script when this file appears:
      {{.Interrupt}}
`))
