//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	signalTerminate = unix.SIGTERM
	signalKill      = unix.SIGKILL
)

// configureCommand puts the child in its own process group so the whole
// tree can be signalled. On a terminal the child leads a new session, which
// already makes it a group leader.
func configureCommand(cmd *exec.Cmd, onTerminal bool) {
	attr := &syscall.SysProcAttr{}
	if onTerminal {
		attr.Setsid = true
		attr.Setctty = true
	} else {
		attr.Setpgid = true
	}
	setDeathSignal(attr)
	cmd.SysProcAttr = attr
}

func processGroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

func signalProcessGroup(pid, pgid int, sig unix.Signal) error {
	target := pid
	if pgid > 0 {
		target = -pgid
	}
	if target == 0 {
		return nil
	}
	err := unix.Kill(target, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// exitCode maps a Wait error to a shell-style status; signals become
// 128+signal.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}
