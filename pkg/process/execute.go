package process

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/shell"
)

// Spawner starts a resolved invocation and hands back the process with its combined output
type Spawner interface {
	Spawn(ctx context.Context, id string, invocation shell.Invocation) (*os.Process, io.ReadCloser, error)
}

type SpawnOptions struct {
	// Environment is appended to the launcher's own environment
	Environment []string
}

type stdSpawner struct {
	options SpawnOptions
	logger  logging.Logger
}

func NewStdSpawner(options SpawnOptions, logger logging.Logger) Spawner {
	return &stdSpawner{
		options: options,
		logger:  logger,
	}
}

// Spawn does not tie the child to ctx: apps are long-running servers that must outlive the request
func (s *stdSpawner) Spawn(ctx context.Context, id string, invocation shell.Invocation) (*os.Process, io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.NewCancelledError("spawn cancelled", err).WithContext("id", id)
	}

	if err := ValidateInvocation(invocation); err != nil {
		s.logger.Errorf("Invocation validation failed, id: %s, error: %v", id, err)
		return nil, nil, errors.NewSpawnFailedError("invalid invocation", err).WithContext("id", id)
	}

	env := os.Environ()
	env = append(env, s.options.Environment...)

	cmd := exec.Command(invocation.Executable, invocation.Args...)
	cmd.Dir = invocation.Dir
	cmd.Env = env
	cmd.Stdin = nil

	// Platform-specific setup is handled in execute_windows.go or execute_unix.go
	setupProcessAttributes(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.NewSpawnFailedError("failed to create stdout pipe", err).WithContext("id", id).WithContext("executable", invocation.Executable)
	}
	cmd.Stderr = cmd.Stdout

	s.logger.Debugf("Spawning process, id: %s, executable: '%s', args: %q, dir: '%s'",
		id, invocation.Executable, invocation.Args, invocation.Dir)

	if err := cmd.Start(); err != nil {
		stdout.Close()
		return nil, nil, errors.NewSpawnFailedError("failed to start the process", err).WithContext("id", id).WithContext("executable", invocation.Executable)
	}

	s.logger.Infof("Successfully spawned process, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd.Process, stdout, nil
}
