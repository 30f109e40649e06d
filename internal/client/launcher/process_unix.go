//go:build !windows

package launcher

import (
	"os"
	"os/exec"
	"syscall"
)

// setupDetached starts the child in its own session so it outlives the
// launching terminal
func setupDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
}

// isProcessRunning sends signal 0; FindProcess always succeeds on Unix
func isProcessRunning(process *os.Process) bool {
	return process.Signal(syscall.Signal(0)) == nil
}

func killProcess(process *os.Process) error {
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return process.Signal(syscall.SIGKILL)
	}
	return nil
}
