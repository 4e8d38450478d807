package shell

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// Kind is the shell a start step runs under
type Kind string

const (
	// KindBash runs under bash; on a Windows host it runs inside WSL
	KindBash       Kind = "bash"
	KindPowerShell Kind = "powershell"
	KindCmd        Kind = "cmd"
)

// DefaultKind is used when a step does not declare a shell
const DefaultKind = KindBash

// ParseKind validates a shell kind; empty means DefaultKind
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return DefaultKind, nil
	case KindBash:
		return KindBash, nil
	case KindPowerShell:
		return KindPowerShell, nil
	case KindCmd:
		return KindCmd, nil
	}
	return "", errors.NewConfigurationError(fmt.Sprintf("unknown shell kind '%s'", value), nil).
		WithContext("allowed", []Kind{KindBash, KindPowerShell, KindCmd})
}

// Step is the shell-facing part of a start step
type Step struct {
	Command string
	Shell   Kind
	Cwd     string // template, may contain {workspace}; empty means {workspace}
}

// Invocation is a concrete process to create
type Invocation struct {
	Executable string
	Args       []string
	// Dir is the working directory for process creation; empty means leave it unset
	Dir string
	// WorkDir is the directory the command effectively runs in, for display
	WorkDir string
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Executable + " " + strings.Join(i.Args, " "))
}

// Resolve turns a start step into a host-appropriate invocation. It performs no I/O.
func Resolve(step Step, workspace string, host HostOS) (Invocation, error) {
	kind := step.Shell
	if kind == "" {
		kind = DefaultKind
	}

	cwdTemplate := step.Cwd
	if cwdTemplate == "" {
		cwdTemplate = WorkspacePlaceholder
	}

	switch kind {
	case KindBash:
		if host == HostWindows {
			// WSL does not accept host paths as its working directory; cd inside the shell instead
			posixWorkspace := ToPosixPath(workspace)
			cwd := ToPosixPath(strings.ReplaceAll(cwdTemplate, WorkspacePlaceholder, workspace))
			if IsPosixAbsolute(cwd) {
				cwd = strings.ReplaceAll(cwd, `\`, "/")
			}
			command := strings.ReplaceAll(step.Command, WorkspacePlaceholder, posixWorkspace)
			return Invocation{
				Executable: "wsl",
				Args:       []string{"bash", "-lc", "cd " + quoteSingle(cwd) + " && " + command},
				WorkDir:    cwd,
			}, nil
		}
		if host == HostWSL {
			workspace = ToPosixPath(workspace)
		}
		cwd := substitute(cwdTemplate, workspace, host)
		return Invocation{
			Executable: "bash",
			Args:       []string{"-lc", strings.ReplaceAll(step.Command, WorkspacePlaceholder, workspace)},
			Dir:        cwd,
			WorkDir:    cwd,
		}, nil

	case KindPowerShell:
		cwd := substitute(cwdTemplate, workspace, host)
		command := strings.ReplaceAll(step.Command, WorkspacePlaceholder, workspace)
		if host == HostWindows {
			return Invocation{
				Executable: "powershell.exe",
				Args:       []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-Command", command},
				Dir:        cwd,
				WorkDir:    cwd,
			}, nil
		}
		return Invocation{
			Executable: "pwsh",
			Args:       []string{"-NoProfile", "-Command", command},
			Dir:        cwd,
			WorkDir:    cwd,
		}, nil

	case KindCmd:
		cwd := substitute(cwdTemplate, workspace, host)
		command := strings.ReplaceAll(step.Command, WorkspacePlaceholder, workspace)
		if host == HostWindows {
			return Invocation{
				Executable: "cmd.exe",
				Args:       []string{"/c", command},
				Dir:        cwd,
				WorkDir:    cwd,
			}, nil
		}
		return Invocation{
			Executable: "bash",
			Args:       []string{"-c", command},
			Dir:        cwd,
			WorkDir:    cwd,
		}, nil
	}

	return Invocation{}, errors.NewConfigurationError(fmt.Sprintf("unknown shell kind '%s'", kind), nil)
}

func substitute(cwdTemplate, workspace string, host HostOS) string {
	cwd := strings.ReplaceAll(cwdTemplate, WorkspacePlaceholder, workspace)
	if host == HostWSL {
		cwd = ToPosixPath(cwd)
	}
	return cwd
}
