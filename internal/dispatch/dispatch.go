// Package dispatch decides, per script, whether to use a running daemon,
// start one, or run a one-shot worker.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/victorarias/resident/internal/client"
	"github.com/victorarias/resident/internal/lifecycle"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/oneshot"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workspace"
)

// Lifecycle is the daemon management the dispatcher needs.
type Lifecycle interface {
	FindServer(ws *workspace.Workspace) lifecycle.ServerInfo
	Start(ctx context.Context, ws *workspace.Workspace, opts lifecycle.LaunchOptions) error
	LockConflict(ws *workspace.Workspace, lockPath string, oneShotHint bool) *protocol.LockConflictError
}

// OneShotRunner runs a script through a disposable worker.
type OneShotRunner interface {
	Run(ctx context.Context, ws *workspace.Workspace, payload string, opts oneshot.Options) ([]string, error)
}

// SendFunc performs one protocol exchange with the worker at addr.
type SendFunc func(ctx context.Context, addr, payload string, opts client.SendOptions) ([]string, error)

// ClientSend is the SendFunc backed by the TCP client.
func ClientSend(ctx context.Context, addr, payload string, opts client.SendOptions) ([]string, error) {
	return client.New(addr).Send(ctx, payload, opts)
}

// Request describes one script submission.
type Request struct {
	Mode    Mode
	EnvFile string
	Quiet   bool

	ConnectTimeout time.Duration
	Timeout        time.Duration
	InterruptGrace time.Duration

	// OnLine receives persisted output lines as they arrive.
	OnLine func(line string)
	// OnProgress receives the text of progress marker lines.
	OnProgress func(text string)
}

// Result is the outcome of a successful run.
type Result struct {
	Output []string
	Via    Via
	ID     string
}

// Dispatcher routes scripts for one workspace.
type Dispatcher struct {
	Workspace *workspace.Workspace
	Lifecycle Lifecycle
	OneShot   OneShotRunner
	Send      SendFunc

	// Out receives notices about fallbacks and interrupts; nil discards.
	Out    io.Writer
	Logger *logging.Logger
}

// Run executes payload according to req.Mode. Output and RemoteError output
// exclude progress lines.
func (d *Dispatcher) Run(ctx context.Context, payload string, req Request) (Result, error) {
	id := uuid.NewString()
	d.Logger.Infof("run %s: mode=%s workspace=%s", id, req.Mode, d.Workspace.Dir)

	res, err := d.route(ctx, id, payload, req)
	res.ID = id
	res.Output = persisted(res.Output)

	var remote *protocol.RemoteError
	if errors.As(err, &remote) {
		remote.Output = persisted(remote.Output)
	}
	if err != nil {
		d.Logger.Infof("run %s via %s failed: %v", id, res.Via, err)
	} else {
		d.Logger.Infof("run %s via %s: %d lines", id, res.Via, len(res.Output))
	}
	return res, err
}

func (d *Dispatcher) route(ctx context.Context, id, payload string, req Request) (Result, error) {
	ws := d.Workspace

	switch req.Mode {
	case OneShot:
		return d.oneShot(ctx, payload, req)

	case ExistingOnly:
		info := d.Lifecycle.FindServer(ws)
		if info.Reachable {
			return d.daemonSend(ctx, id, info, payload, req)
		}
		if info.ExternallyLocked {
			return Result{}, d.Lifecycle.LockConflict(ws, info.LockPath, true)
		}
		return Result{}, &protocol.NotRunningError{Workspace: ws.Dir}

	case EnsureDaemon:
		info, err := d.ensure(ctx, req)
		if err != nil {
			return Result{}, err
		}
		return d.daemonSend(ctx, id, info, payload, req)

	case Automatic:
		info, err := d.ensure(ctx, req)
		if err != nil {
			if !fallbackAllowed(err) {
				return Result{}, err
			}
			d.notice(req, "Failed to start server, using one-shot mode")
			d.Logger.Infof("run %s: start failed, falling back: %v", id, err)
			return d.oneShot(ctx, payload, req)
		}

		res, err := d.daemonSend(ctx, id, info, payload, req)
		if protocol.IsTransport(err) {
			if len(persisted(res.Output)) > 0 {
				d.notice(req, "Server connection error, rerunning in one-shot mode; output restarts from the beginning: %v", err)
			} else {
				d.notice(req, "Server connection error, falling back to one-shot: %v", err)
			}
			d.Logger.Infof("run %s: transport failure after %d lines, retrying one-shot", id, len(res.Output))
			return d.oneShot(ctx, payload, req)
		}
		return res, err
	}

	return Result{}, fmt.Errorf("unsupported mode %s", req.Mode)
}

// ensure returns a reachable server, starting one when the workspace is free.
func (d *Dispatcher) ensure(ctx context.Context, req Request) (lifecycle.ServerInfo, error) {
	ws := d.Workspace
	info := d.Lifecycle.FindServer(ws)
	if info.Reachable {
		return info, nil
	}
	if info.ExternallyLocked {
		return info, d.Lifecycle.LockConflict(ws, info.LockPath, req.Mode == Automatic)
	}

	if err := d.Lifecycle.Start(ctx, ws, lifecycle.LaunchOptions{EnvFile: req.EnvFile, Quiet: req.Quiet}); err != nil {
		return info, err
	}
	info = d.Lifecycle.FindServer(ws)
	if !info.Reachable {
		return info, &protocol.LaunchError{Message: "worker started but is not reachable"}
	}
	return info, nil
}

// fallbackAllowed reports whether a failed start may fall back to one-shot.
// An interrupt or a lock that appeared meanwhile must reach the caller.
func fallbackAllowed(err error) bool {
	if errors.Is(err, protocol.ErrInterrupted) {
		return false
	}
	var conflict *protocol.LockConflictError
	return !errors.As(err, &conflict)
}

func (d *Dispatcher) daemonSend(ctx context.Context, id string, info lifecycle.ServerInfo, payload string, req Request) (Result, error) {
	ws := d.Workspace
	defer ws.ClearInterrupt()

	out, err := d.Send(ctx, info.Addr(), payload, client.SendOptions{
		ConnectTimeout: req.ConnectTimeout,
		Timeout:        req.Timeout,
		InterruptGrace: req.InterruptGrace,
		OnLine:         d.sink(req),
		OnInterrupt: func() {
			if err := ws.SetInterrupt(id); err != nil {
				d.Logger.Errorf("run %s: set interrupt flag: %v", id, err)
			}
			d.notice(req, "\nInterrupt requested, waiting for command to stop...")
		},
	})
	return Result{Output: out, Via: ViaDaemon}, err
}

func (d *Dispatcher) oneShot(ctx context.Context, payload string, req Request) (Result, error) {
	out, err := d.OneShot.Run(ctx, d.Workspace, payload, oneshot.Options{
		EnvFile: req.EnvFile,
		OnLine:  d.sink(req),
	})
	return Result{Output: out, Via: ViaOneShot}, err
}

// sink splits streamed lines into progress and persisted output.
func (d *Dispatcher) sink(req Request) func(string) {
	return func(line string) {
		if text, ok := protocol.ParseProgress(line); ok {
			if req.OnProgress != nil {
				req.OnProgress(text)
			}
			return
		}
		if req.OnLine != nil {
			req.OnLine(line)
		}
	}
}

func (d *Dispatcher) notice(req Request, format string, args ...interface{}) {
	if req.Quiet || d.Out == nil {
		return
	}
	fmt.Fprintf(d.Out, format+"\n", args...)
}

func persisted(lines []string) []string {
	if lines == nil {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := protocol.ParseProgress(line); !ok {
			out = append(out, line)
		}
	}
	return out
}
