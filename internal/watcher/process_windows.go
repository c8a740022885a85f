//go:build windows

package watcher

import (
	"os/exec"
	"time"
)

func configureWatchProcess(cmd *exec.Cmd) {}

func stopWatchProcess(cmd *exec.Cmd, timeout time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil
}
