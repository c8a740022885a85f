//go:build windows

package supervisor

import (
	"errors"
	"os"
	"os/exec"
)

type processSignal int

const (
	signalTerminate processSignal = iota
	signalKill
)

func configureCommand(cmd *exec.Cmd, onTerminal bool) {}

func processGroupID(pid int) int {
	return 0
}

// Windows has no process groups to signal; both signals kill the process.
func signalProcessGroup(pid, pgid int, sig processSignal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	err = process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
