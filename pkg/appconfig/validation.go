package appconfig

import (
	"fmt"
	"net/url"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/shell"
)

// ValidateAppID validates app ID format and constraints
func ValidateAppID(id string) error {
	if id == "" {
		return errors.NewConfigurationError("app ID cannot be empty", nil)
	}

	if len(id) > 64 {
		return errors.NewConfigurationError("app ID cannot exceed 64 characters", nil)
	}

	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewConfigurationError("app ID contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil).
				WithContext("app_id", id)
		}
	}

	return nil
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewConfigurationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateAppDefinition checks a single definition; defaults must already be applied
func ValidateAppDefinition(def AppDefinition) error {
	if err := ValidateAppID(def.ID); err != nil {
		return err
	}

	if def.Name == "" {
		return errors.NewConfigurationError("app name cannot be empty", nil).WithContext("app_id", def.ID)
	}

	if def.Workspace == "" {
		return errors.NewConfigurationError("workspace cannot be empty", nil).WithContext("app_id", def.ID)
	}

	if len(def.Start) == 0 {
		return errors.NewConfigurationError("at least one start command is required", nil).WithContext("app_id", def.ID)
	}

	for i, step := range def.Start {
		if step.Cmd == "" {
			return errors.NewConfigurationError(fmt.Sprintf("start command %d is empty", i), nil).WithContext("app_id", def.ID)
		}
		if _, err := shell.ParseKind(string(step.Shell)); err != nil {
			return errors.NewConfigurationError(fmt.Sprintf("start command %d has invalid shell", i), err).WithContext("app_id", def.ID)
		}
	}

	for i, check := range def.Health {
		if err := validateHTTPURL(check.URL); err != nil {
			return errors.NewConfigurationError(fmt.Sprintf("health check %d has invalid URL", i), err).WithContext("app_id", def.ID)
		}
		if check.TimeoutSec <= 0 {
			return errors.NewConfigurationError(fmt.Sprintf("health check %d timeout must be positive", i), nil).WithContext("app_id", def.ID)
		}
	}

	for i, open := range def.Open {
		if open.URL == "" {
			return errors.NewConfigurationError(fmt.Sprintf("open URL %d is empty", i), nil).WithContext("app_id", def.ID)
		}
	}

	for _, port := range def.Ports {
		if err := ValidatePort(port); err != nil {
			return errors.NewConfigurationError(fmt.Sprintf("invalid port %d", port), err).WithContext("app_id", def.ID)
		}
	}

	return nil
}

// ValidateApps validates every definition and rejects duplicate IDs
func ValidateApps(apps []AppDefinition) error {
	seen := make(map[string]int)
	for i, def := range apps {
		if err := ValidateAppDefinition(def); err != nil {
			return errors.NewConfigurationError(fmt.Sprintf("app at index %d is invalid", i), err)
		}
		if prev, exists := seen[def.ID]; exists {
			return errors.NewConfigurationError(
				fmt.Sprintf("duplicate app ID '%s' found at indices %d and %d", def.ID, prev, i), nil)
		}
		seen[def.ID] = i
	}
	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got '%s'", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is missing in '%s'", raw)
	}
	return nil
}
