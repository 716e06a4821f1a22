package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/victorarias/resident/internal/config"
	"github.com/victorarias/resident/internal/protocol"
)

func main() {
	config.SetBinaryName("resident")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		// A second interrupt gets the default behaviour and kills us.
		<-ctx.Done()
		stop()
	}()

	code := executeCLI(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// executeCLI runs the command line and returns the process exit code.
func executeCLI(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		defer a.logger.Close()
	}
	return a.report(err)
}

// usageError marks command line mistakes.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...interface{}) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// exitStatus carries an exit code chosen by a command that already reported
// its own outcome.
type exitStatus struct {
	code int
}

func (e *exitStatus) Error() string { return fmt.Sprintf("exit status %d", e.code) }

// report prints err for humans and maps it to an exit code.
func (a *app) report(err error) int {
	if err == nil {
		return protocol.ExitOK
	}

	var (
		usage  *usageError
		status *exitStatus
		remote *protocol.RemoteError
	)
	switch {
	case errors.As(err, &status):
		return status.code
	case errors.As(err, &usage), strings.HasPrefix(err.Error(), "unknown command"):
		fmt.Fprintf(a.stderr, "Error: %v\nRun '%s --help' for usage.\n", err, config.BinaryName())
		return protocol.ExitUsage
	case errors.Is(err, protocol.ErrInterrupted):
		fmt.Fprintln(a.stderr, "Interrupted")
	case errors.As(err, &remote):
		// The output was already streamed.
		if len(remote.Output) == 0 {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
		}
		if remote.Code != 0 {
			a.logger.Errorf("worker exit status %d", remote.Code)
		}
	default:
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
	}

	a.logger.Errorf("exit: %v", err)
	return protocol.ExitCode(err)
}
