package master

import (
	"net"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	logconfig "github.com/core-tools/hsu-launcher/pkg/logcollection/config"
)

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateHost accepts an IP address or localhost
func ValidateHost(host string) error {
	if host == "" {
		return errors.NewValidationError("host cannot be empty", nil)
	}
	if host != "localhost" && net.ParseIP(host) == nil {
		return errors.NewValidationError("host must be an IP address or localhost: "+host, nil)
	}
	return nil
}

// ValidateSettings checks the settings before anything is started
func ValidateSettings(settings Settings) error {
	if err := ValidateHost(settings.Host); err != nil {
		return errors.NewConfigurationError("invalid host", err)
	}

	if err := ValidatePort(settings.Port); err != nil {
		return errors.NewConfigurationError("invalid port", err).WithContext("port", settings.Port)
	}

	if settings.ControlPort != 0 {
		if err := ValidatePort(settings.ControlPort); err != nil {
			return errors.NewConfigurationError("invalid control port", err).WithContext("control_port", settings.ControlPort)
		}
		if settings.ControlPort == settings.Port {
			return errors.NewConfigurationError("control port must differ from the HTTP port", nil)
		}
	}

	if err := ValidatePort(settings.VitePort); err != nil {
		return errors.NewConfigurationError("invalid Vite port", err).WithContext("vite_port", settings.VitePort)
	}

	if strings.TrimSpace(settings.AppsFile) == "" {
		return errors.NewConfigurationError("apps file cannot be empty", nil)
	}

	if settings.PollInterval <= 0 {
		return errors.NewConfigurationError("poll interval must be positive", nil)
	}
	if settings.StartCeiling <= 0 {
		return errors.NewConfigurationError("start ceiling must be positive", nil)
	}
	if settings.StopGrace <= 0 {
		return errors.NewConfigurationError("stop grace period must be positive", nil)
	}

	if settings.UsageInterval < 0 {
		return errors.NewConfigurationError("usage interval cannot be negative", nil)
	}

	if settings.RateLimitRPS < 0 || settings.RateLimitBurst < 0 {
		return errors.NewConfigurationError("rate limit values cannot be negative", nil)
	}

	sinkConfig := settings.LogSinkConfig()
	if err := sinkConfig.Validate(); err != nil {
		return errors.NewConfigurationError("invalid log settings", err)
	}
	if settings.LogMaxLines > logconfig.DefaultMaxLines*50 {
		return errors.NewConfigurationError("log max lines is too large", nil).WithContext("log_max_lines", settings.LogMaxLines)
	}

	return nil
}
