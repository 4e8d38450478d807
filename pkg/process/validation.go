package process

import (
	"os"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/shell"
)

// ValidateInvocation checks what the resolver produced before it reaches exec
func ValidateInvocation(invocation shell.Invocation) error {
	if invocation.Executable == "" {
		return errors.NewValidationError("executable cannot be empty", nil)
	}

	if invocation.Dir != "" {
		info, err := os.Stat(invocation.Dir)
		if err != nil {
			return errors.NewIOError("working directory not accessible: "+invocation.Dir, err)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+invocation.Dir, nil)
		}
	}

	return nil
}

// ValidatePID validates PID value
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}
