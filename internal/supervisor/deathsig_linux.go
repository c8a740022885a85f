//go:build linux

package supervisor

import "syscall"

func setDeathSignal(attr *syscall.SysProcAttr) {
	if attr == nil {
		return
	}
	attr.Pdeathsig = syscall.SIGTERM
}
