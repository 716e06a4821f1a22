// Package oneshot runs a script through a disposable worker process, for
// when no daemon can be used.
package oneshot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/protocol"
	"github.com/victorarias/resident/internal/workercmd"
	"github.com/victorarias/resident/internal/workspace"
)

const (
	defaultKillDelay = 5 * time.Second
	maxLineLength    = 1 << 20
)

// Runner starts one worker per script.
type Runner struct {
	// Command is the argv template; {script} is the temp script path.
	Command []string
	// PTY runs the worker on a pseudo terminal so line-buffered tools stream.
	PTY bool
	// KillDelay is the wait between SIGTERM and SIGKILL on cancellation.
	KillDelay time.Duration
	Logger    *logging.Logger
}

// NewRunner builds a runner from configuration.
func NewRunner(cfg *config.Config, logger *logging.Logger) *Runner {
	return &Runner{
		Command:   cfg.Worker.OneShot,
		PTY:       cfg.Worker.PTY,
		KillDelay: defaultKillDelay,
		Logger:    logger,
	}
}

// Options are per-run inputs.
type Options struct {
	EnvFile string
	// OnLine receives each output line as it is produced.
	OnLine func(line string)
}

// Run executes payload and returns every line the worker printed. A non-zero
// exit is a *protocol.RemoteError carrying the worker's exit code; a worker
// that cannot be started is a *protocol.LaunchError.
func (r *Runner) Run(ctx context.Context, ws *workspace.Workspace, payload string, opts Options) ([]string, error) {
	if ctx.Err() != nil {
		return nil, protocol.ErrInterrupted
	}

	script, err := writeScript(payload)
	if err != nil {
		return nil, &protocol.LaunchError{Message: "cannot write script file", Err: err}
	}
	defer workspace.BestEffortRemove(script)

	cmd, err := workercmd.Command(r.Command, workercmd.Vars{Workspace: ws.Dir, Script: script}, opts.EnvFile)
	if err != nil {
		return nil, err
	}
	if err := ws.Ensure(); err != nil {
		return nil, &protocol.LaunchError{Message: "cannot create workspace " + ws.Dir, Err: err}
	}
	cmd.Dir = ws.Dir

	var lines []string
	emit := func(line string) {
		lines = append(lines, line)
		if opts.OnLine != nil {
			opts.OnLine(line)
		}
	}

	out, closeOut, err := r.start(cmd)
	if err != nil {
		return nil, &protocol.LaunchError{Message: "cannot start worker", Err: err}
	}
	r.Logger.Infof("one-shot worker pid %d: %v", cmd.Process.Pid, cmd.Args)

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanLines(out, emit)
	}()

	waited := make(chan error, 1)
	go func() {
		waited <- cmd.Wait()
	}()

	var (
		interrupted bool
		kill        *time.Timer
		waitErr     error
	)
	ctxDone := ctx.Done()
loop:
	for {
		select {
		case waitErr = <-waited:
			break loop
		case <-ctxDone:
			ctxDone = nil
			interrupted = true
			pid := cmd.Process.Pid
			r.Logger.Infof("interrupting one-shot worker pid %d", pid)
			workercmd.SignalGroup(pid, syscall.SIGTERM)
			kill = time.AfterFunc(r.killDelay(), func() {
				workercmd.SignalGroup(pid, syscall.SIGKILL)
			})
		}
	}
	if kill != nil {
		kill.Stop()
	}

	// Descendants may still hold the output open; give them a moment.
	select {
	case <-scanned:
	case <-time.After(r.killDelay()):
		closeOut()
		<-scanned
	}
	closeOut()

	if interrupted {
		return lines, protocol.ErrInterrupted
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		return lines, nil
	case errors.As(waitErr, &exitErr):
		return nil, &protocol.RemoteError{Output: lines, Code: exitErr.ExitCode()}
	default:
		return nil, fmt.Errorf("wait for one-shot worker: %w", waitErr)
	}
}

// start launches cmd with its combined output readable from the returned
// reader, either through a pipe or a pseudo terminal.
func (r *Runner) start(cmd *exec.Cmd) (io.Reader, func(), error) {
	if r.PTY {
		// pty.Start puts the child in a new session, which also makes it a
		// group leader.
		ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: 200, Rows: 50})
		if err != nil {
			return nil, nil, err
		}
		return ptmx, func() { ptmx.Close() }, nil
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = workercmd.Grouped()
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, nil, err
	}
	// The child has its own copy of the write end.
	pw.Close()
	return pr, func() { pr.Close() }, nil
}

func (r *Runner) killDelay() time.Duration {
	if r.KillDelay > 0 {
		return r.KillDelay
	}
	return defaultKillDelay
}

func writeScript(payload string) (string, error) {
	f, err := os.CreateTemp("", "resident-*.script")
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	if _, err := f.WriteString(payload); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// scanLines emits each line of r until EOF or a read error (a pty reports
// EIO once the worker is gone).
func scanLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		emit(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	io.Copy(io.Discard, r)
}
