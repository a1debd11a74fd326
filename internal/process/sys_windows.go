//go:build windows

package process

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr { return nil }

// Windows has no process groups in the POSIX sense; terminate and kill both
// end the direct child only.

func terminate(pid int) error { return kill(pid) }

func kill(pid int) error {
	pr, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return pr.Kill()
}
