package shell

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// HostOS is the platform the launcher itself runs on
type HostOS string

const (
	HostWindows HostOS = "windows"
	HostWSL     HostOS = "wsl"
	HostLinux   HostOS = "linux"
	HostDarwin  HostOS = "darwin"
)

// WorkspacePlaceholder is substituted with the resolved workspace path
const WorkspacePlaceholder = "{workspace}"

var (
	wslUNCPattern   = regexp.MustCompile(`(?i)^\\\\wsl(?:\.localhost|\$)\\([^\\]+)(?:\\(.*))?$`)
	drivePathRegexp = regexp.MustCompile(`^([A-Za-z]):(?:[\\/](.*))?$`)
)

// DetectHost reports the host OS, distinguishing WSL from plain Linux
func DetectHost() HostOS {
	switch runtime.GOOS {
	case "windows":
		return HostWindows
	case "darwin":
		return HostDarwin
	case "linux":
		if content, err := os.ReadFile("/proc/version"); err == nil &&
			strings.Contains(strings.ToLower(string(content)), "microsoft") {
			return HostWSL
		}
		return HostLinux
	}
	return HostOS(runtime.GOOS)
}

// IsWindowsPath reports whether path starts with a drive letter
func IsWindowsPath(path string) bool {
	return len(path) >= 3 && drivePathRegexp.MatchString(path) && (path[2] == '\\' || path[2] == '/')
}

// IsPosixAbsolute reports whether path is an absolute POSIX path (not a UNC share)
func IsPosixAbsolute(path string) bool {
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//")
}

// WSLDistro extracts the distribution name from \\wsl.localhost\<distro>\... or \\wsl$\<distro>\...
func WSLDistro(path string) (string, bool) {
	match := wslUNCPattern.FindStringSubmatch(path)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ToPosixPath converts WSL network shares and drive paths to their POSIX equivalent.
// POSIX paths and anything unrecognized pass through unchanged.
func ToPosixPath(path string) string {
	if match := wslUNCPattern.FindStringSubmatch(path); match != nil {
		return "/" + strings.TrimLeft(strings.ReplaceAll(match[2], `\`, "/"), "/")
	}
	if IsWindowsPath(path) {
		match := drivePathRegexp.FindStringSubmatch(path)
		drive := strings.ToLower(match[1])
		rest := strings.ReplaceAll(match[2], `\`, "/")
		if rest == "" {
			return "/mnt/" + drive
		}
		return "/mnt/" + drive + "/" + rest
	}
	return path
}

// ExpandWorkspace expands a leading ~ and environment variables
func ExpandWorkspace(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return path
}

// quoteSingle wraps s in single quotes for a POSIX shell
func quoteSingle(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
