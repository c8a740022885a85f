//go:build !linux && !windows

package supervisor

import "syscall"

func setDeathSignal(attr *syscall.SysProcAttr) {}
