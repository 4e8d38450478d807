//go:build windows

package process

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/processstate"
)

// console APIs act on process-global state
var consoleOperationLock sync.Mutex

// SendTerminationSignal delivers Ctrl+Break to the process group created with CREATE_NEW_PROCESS_GROUP
func SendTerminationSignal(pid int, isDead bool, timeout time.Duration) error {
	if pid <= 0 {
		return errors.NewValidationError(fmt.Sprintf("invalid PID: %d", pid), nil)
	}

	consoleOperationLock.Lock()
	defer consoleOperationLock.Unlock()

	if isDead {
		isRunning, _ := processstate.IsProcessRunning(pid)
		isDead = !isRunning
	}

	dll, err := syscall.LoadDLL("kernel32.dll")
	if err != nil {
		return errors.NewInternalError("failed to load kernel32.dll", err)
	}
	defer dll.Release()

	if isDead {
		return consoleSignalFix(dll, pid)
	}
	return sendCtrlBreak(dll, pid, timeout)
}

// consoleSignalFix attaches to a dead PID, which resets the launcher's own console
// so that Ctrl+C keeps reaching it after a child group was signalled.
func consoleSignalFix(dll *syscall.DLL, deadPID int) error {
	if err := attachConsole(dll, deadPID); err != nil {
		// expected for a dead PID
		return nil
	}
	return errors.NewProcessError(fmt.Sprintf("AttachConsole unexpectedly succeeded for PID %d", deadPID), nil)
}

func sendCtrlBreak(dll *syscall.DLL, pid int, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- generateConsoleCtrlEvent(dll, pid)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("failed to send Ctrl+Break", err).WithContext("pid", pid)
		}
		return nil
	case <-time.After(timeout):
		return errors.NewTimeoutError(fmt.Sprintf("timeout sending Ctrl+Break after %v", timeout), nil).WithContext("pid", pid)
	}
}

func attachConsole(dll *syscall.DLL, pid int) error {
	proc, err := dll.FindProc("AttachConsole")
	if err != nil {
		return err
	}

	result, _, err := proc.Call(uintptr(pid))
	if result == 0 {
		return err
	}
	return nil
}

func generateConsoleCtrlEvent(dll *syscall.DLL, pid int) error {
	proc, err := dll.FindProc("GenerateConsoleCtrlEvent")
	if err != nil {
		return err
	}

	result, _, err := proc.Call(
		uintptr(syscall.CTRL_BREAK_EVENT),
		uintptr(pid),
	)
	if result == 0 {
		return err
	}
	return nil
}

// KillProcessGroup is a no-op on Windows: descendants are killed individually by the tracker
func KillProcessGroup(pid int) error {
	return nil
}
