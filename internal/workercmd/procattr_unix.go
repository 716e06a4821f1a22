//go:build unix

package workercmd

import "syscall"

// Detached starts the child in a new session so it outlives the caller and
// is not hung up when the terminal closes.
func Detached() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// Grouped puts the child in its own process group so the whole tree can be
// signalled at once.
func Grouped() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// SignalGroup signals the process group led by pid, falling back to the
// process itself.
func SignalGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}
