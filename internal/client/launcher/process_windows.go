//go:build windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

func setupDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// isProcessRunning relies on Signal failing for a missing process
func isProcessRunning(process *os.Process) bool {
	return process.Signal(syscall.Signal(0)) == nil
}

func killProcess(process *os.Process) error {
	return process.Kill()
}
