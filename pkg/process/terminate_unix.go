//go:build !windows

package process

import (
	"syscall"
	"time"
)

// SendTerminationSignal sends SIGTERM to the process group (negative PID) so the whole tree is asked to exit
func SendTerminationSignal(pid int, isDead bool, timeout time.Duration) error {
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		// the child may have left its group; fall back to the process itself
		return syscall.Kill(pid, syscall.SIGTERM)
	}
	return nil
}

// KillProcessGroup force-kills every member of the process group led by pid
func KillProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
