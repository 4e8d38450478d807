package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
)

// DefaultAppName names the state subdirectory
const DefaultAppName = "hsu-launcher"

// ProcessFileConfig holds configuration for PID file and log directory placement
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses OS-appropriate default
	BaseDirectory string

	// Service context - affects directory selection
	ServiceContext ServiceContext

	// Application name for subdirectory creation
	AppName string
}

// ServiceContext defines the context in which the launcher runs
type ServiceContext string

const (
	// UserService keeps state under the user's runtime or application data directory
	UserService ServiceContext = "user"

	// SessionService keeps state in a directory cleaned up on logout or reboot
	SessionService ServiceContext = "session"
)

// ProcessFileManager places and maintains per-app PID files
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// GeneratePIDFilePath generates the PID file path for the given app ID
func (m *ProcessFileManager) GeneratePIDFilePath(appID string) string {
	return filepath.Join(m.stateDirectory(), appID+".pid")
}

// GenerateLogDirectoryPath returns the default directory for per-app logs
func (m *ProcessFileManager) GenerateLogDirectoryPath() string {
	return filepath.Join(m.stateDirectory(), "logs")
}

// WritePIDFile records the PIDs spawned for an app, one per line
func (m *ProcessFileManager) WritePIDFile(appID string, pids []int) error {
	pidFilePath := m.GeneratePIDFilePath(appID)
	m.logger.Debugf("Writing PID file, app: %s, pids: %v, path: %s", appID, pids, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, app: %s, path: %s, error: %v", appID, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	var content strings.Builder
	for _, pid := range pids {
		fmt.Fprintf(&content, "%d\n", pid)
	}

	if err := os.WriteFile(pidFilePath, []byte(content.String()), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, app: %s, path: %s, error: %v", appID, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath)
	}

	return nil
}

// ReadPIDFile returns the recorded PIDs and when the file was last written
func (m *ProcessFileManager) ReadPIDFile(appID string) ([]int, time.Time, error) {
	pidFilePath := m.GeneratePIDFilePath(appID)

	info, err := os.Stat(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, time.Time{}, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return nil, time.Time{}, errors.NewIOError("failed to stat PID file", err).WithContext("pid_file", pidFilePath)
	}

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return nil, time.Time{}, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	var pids []int
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := process.ValidatePID(line)
		if err != nil {
			return nil, time.Time{}, errors.NewValidationError("invalid PID in PID file", err).
				WithContext("pid_file", pidFilePath).WithContext("content", line)
		}
		pids = append(pids, pid)
	}

	return pids, info.ModTime(), nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(appID string) error {
	pidFilePath := m.GeneratePIDFilePath(appID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, app: %s, path: %s, error: %v", appID, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

func (m *ProcessFileManager) stateDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SessionService:
		return filepath.Join(getSessionServiceDirectory(), m.config.AppName)
	default:
		return filepath.Join(getUserServiceDirectory(), m.config.AppName)
	}
}

// getUserServiceDirectory returns the directory for user services
func getUserServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
				localAppData = filepath.Join(userProfile, "AppData", "Local")
			} else {
				localAppData = os.TempDir()
			}
		}
		return localAppData

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return stateHome
		}
		if homeDir, err := os.UserHomeDir(); err == nil {
			return filepath.Join(homeDir, ".local", "state")
		}
		return os.TempDir()
	}
}

// getSessionServiceDirectory returns the directory for session services
func getSessionServiceDirectory() string {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		return os.TempDir()
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return runtimeDir
	}
	sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
	if _, err := os.Stat(sessionDir); err == nil {
		return sessionDir
	}
	return os.TempDir()
}

// ValidatePIDFileDirectory validates that the PID file directory exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
			}
		} else {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	if file, err := os.Create(testFile); err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	} else {
		file.Close()
		os.Remove(testFile)
	}

	return nil
}
