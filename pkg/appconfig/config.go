package appconfig

import (
	"time"

	"github.com/core-tools/hsu-launcher/pkg/shell"

	"gopkg.in/yaml.v3"
)

// DefaultHealthTimeoutSec applies to health checks that omit timeout_sec
const DefaultHealthTimeoutSec = 120

// AppDefinition describes one manageable local application
type AppDefinition struct {
	ID        string        `yaml:"id" json:"id"`
	Name      string        `yaml:"name" json:"name"`
	Workspace string        `yaml:"workspace" json:"workspace"`
	Start     []StartStep   `yaml:"start" json:"start"`
	Health    []HealthCheck `yaml:"health" json:"health"`
	Open      []OpenURL     `yaml:"open" json:"open"`
	Ports     []int         `yaml:"ports,omitempty" json:"ports"`
}

// StartStep is one command of the start sequence
type StartStep struct {
	Cmd   string     `yaml:"cmd" json:"cmd"`
	Shell shell.Kind `yaml:"shell" json:"shell"`
	Cwd   string     `yaml:"cwd,omitempty" json:"cwd,omitempty"`
}

// HealthCheck is an HTTP endpoint that reports the app healthy with any 2xx
type HealthCheck struct {
	URL        string `yaml:"url" json:"url"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// OpenURL is surfaced to the user after a healthy launch
type OpenURL struct {
	URL string `yaml:"url" json:"url"`
}

func (s StartStep) ShellStep() shell.Step {
	return shell.Step{
		Command: s.Cmd,
		Shell:   s.Shell,
		Cwd:     s.Cwd,
	}
}

func (h HealthCheck) Timeout() time.Duration {
	return time.Duration(h.TimeoutSec) * time.Second
}

// OpenURLs returns the plain URL strings
func (d AppDefinition) OpenURLs() []string {
	urls := make([]string, 0, len(d.Open))
	for _, open := range d.Open {
		urls = append(urls, open.URL)
	}
	return urls
}

// Clone returns a deep copy so callers never share slices with the repository
func (d AppDefinition) Clone() AppDefinition {
	clone := d
	clone.Start = append([]StartStep(nil), d.Start...)
	clone.Health = append([]HealthCheck(nil), d.Health...)
	clone.Open = append([]OpenURL(nil), d.Open...)
	clone.Ports = append([]int(nil), d.Ports...)
	return clone
}

// Entries may be written either as a plain string or as a map

func (s *StartStep) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		s.Cmd = node.Value
		return nil
	}
	type plain StartStep
	return node.Decode((*plain)(s))
}

func (h *HealthCheck) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		h.URL = node.Value
		return nil
	}
	type plain HealthCheck
	return node.Decode((*plain)(h))
}

func (o *OpenURL) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		o.URL = node.Value
		return nil
	}
	type plain OpenURL
	return node.Decode((*plain)(o))
}

// SetDefaults fills optional fields with their documented defaults
func SetDefaults(def *AppDefinition) {
	for i := range def.Start {
		// unknown kinds are left as-is for validation to reject
		if kind, err := shell.ParseKind(string(def.Start[i].Shell)); err == nil {
			def.Start[i].Shell = kind
		}
	}
	for i := range def.Health {
		if def.Health[i].TimeoutSec == 0 {
			def.Health[i].TimeoutSec = DefaultHealthTimeoutSec
		}
	}
}
