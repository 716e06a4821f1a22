//go:build !unix

package workercmd

import (
	"os"
	"syscall"
)

// Detached has no session semantics off unix; the child is simply not waited on.
func Detached() *syscall.SysProcAttr {
	return nil
}

// Grouped has no process group semantics off unix.
func Grouped() *syscall.SysProcAttr {
	return nil
}

// SignalGroup kills the process; signals other than kill are not delivered off unix.
func SignalGroup(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
