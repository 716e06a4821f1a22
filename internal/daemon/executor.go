package daemon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/victorarias/resident/internal/logging"
	"github.com/victorarias/resident/internal/workercmd"
	"github.com/victorarias/resident/internal/workspace"
)

// ErrInterrupted is returned when a payload was stopped through the
// interrupt flag or a server shutdown.
var ErrInterrupted = errors.New("interrupted")

const (
	defaultInterruptPoll = 200 * time.Millisecond
	killDelay            = 2 * time.Second
	maxLineLength        = 1 << 20
)

// ShellExecutor runs payloads with a shell in the workspace directory. The
// script is fed on stdin; stdout and stderr are merged.
type ShellExecutor struct {
	Shell     string
	Workspace *workspace.Workspace

	// InterruptPoll is how often the interrupt flag is checked.
	InterruptPoll time.Duration
	// IgnoreInterruptFlag leaves the workspace interrupt flag alone; only
	// ctx stops the script. One-shot runs set it since the flag belongs to
	// the daemon.
	IgnoreInterruptFlag bool
	Logger              *logging.Logger
}

// NewShellExecutor creates an executor for ws. An empty shell means sh.
func NewShellExecutor(shell string, ws *workspace.Workspace, logger *logging.Logger) *ShellExecutor {
	if shell == "" {
		shell = "sh"
	}
	return &ShellExecutor{
		Shell:         shell,
		Workspace:     ws,
		InterruptPoll: defaultInterruptPoll,
		Logger:        logger,
	}
}

// Execute runs script and streams its output. A non-zero exit is returned as
// the *exec.ExitError from the shell.
func (e *ShellExecutor) Execute(ctx context.Context, script string, emit func(line string)) error {
	// A flag left behind by a client that died belongs to an older payload.
	if !e.IgnoreInterruptFlag && e.Workspace.InterruptRequested() {
		e.Workspace.ClearInterrupt()
		e.Logger.Info("cleared stale interrupt flag")
	}

	cmd := exec.Command(e.Shell, "-s")
	cmd.Dir = e.Workspace.Dir
	cmd.Stdin = strings.NewReader(script + "\n")
	cmd.SysProcAttr = workercmd.Grouped()
	cmd.WaitDelay = killDelay

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return err
	}

	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanLines(pr, emit)
	}()

	waited := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waited <- err
	}()

	poll := e.InterruptPoll
	if poll <= 0 {
		poll = defaultInterruptPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var (
		interrupted bool
		kill        *time.Timer
	)
	stop := func(reason string) {
		if interrupted {
			return
		}
		interrupted = true
		e.Logger.Infof("stopping payload (pid %d): %s", cmd.Process.Pid, reason)
		workercmd.SignalGroup(cmd.Process.Pid, syscall.SIGTERM)
		pid := cmd.Process.Pid
		kill = time.AfterFunc(killDelay, func() {
			workercmd.SignalGroup(pid, syscall.SIGKILL)
		})
	}

	ctxDone := ctx.Done()
	for {
		select {
		case err := <-waited:
			if kill != nil {
				kill.Stop()
			}
			<-scanned
			if interrupted {
				if !e.IgnoreInterruptFlag {
					e.Workspace.ClearInterrupt()
				}
				return ErrInterrupted
			}
			return err
		case <-ctxDone:
			ctxDone = nil
			stop("shutdown")
		case <-ticker.C:
			if !interrupted && !e.IgnoreInterruptFlag && e.Workspace.InterruptRequested() {
				stop("interrupt flag")
			}
		}
	}
}

// scanLines emits each line read from r. Overlong lines end scanning; the
// rest of the stream is drained so the writer never blocks.
func scanLines(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		emit(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	io.Copy(io.Discard, r)
}
