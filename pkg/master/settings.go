package master

import (
	"os"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/api"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	logconfig "github.com/core-tools/hsu-launcher/pkg/logcollection/config"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every launcher variable except the Vite ones
const EnvPrefix = "LAUNCHER"

// Settings is the service configuration, read from the environment
type Settings struct {
	Host     string `split_words:"true" default:"127.0.0.1"`
	Port     int    `split_words:"true" default:"8080"`
	Env      string `split_words:"true" default:"development"`
	AppsFile string `split_words:"true" default:"apps.yaml"`

	// LogDir holds per-app output logs; empty selects <state dir>/logs
	LogDir      string `split_words:"true" default:"logs"`
	LogMaxLines int    `split_words:"true" default:"2000"`

	// StateDir holds PID files; empty selects the per-user state directory
	StateDir string `split_words:"true"`

	// Service log backend
	LogLevel  string `split_words:"true" default:"info"`
	LogFormat string `split_words:"true" default:"console"`
	LogOutput string `split_words:"true" default:"stdout"`

	// ControlPort serves the gRPC control service; 0 disables it
	ControlPort int `split_words:"true" default:"0"`

	// RateLimitRPS of 0 disables rate limiting
	RateLimitRPS   int `split_words:"true" default:"0"`
	RateLimitBurst int `split_words:"true" default:"0"`

	PollInterval    time.Duration `split_words:"true" default:"2s"`
	StartCeiling    time.Duration `split_words:"true" default:"120s"`
	StopGrace       time.Duration `split_words:"true" default:"5s"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`

	// UsageInterval is the resource sampling period; 0 disables sampling
	UsageInterval time.Duration `split_words:"true" default:"15s"`

	// envconfig falls back to the unprefixed VITE_* names
	ViteHost string `envconfig:"VITE_HOST" default:"127.0.0.1"`
	VitePort int    `envconfig:"VITE_PORT" default:"5173"`

	// PortExplicit is set when the port was chosen by the user; a busy explicit port is fatal
	PortExplicit bool `ignored:"true"`
}

// LoadSettings reads Settings from the environment
func LoadSettings() (Settings, error) {
	var settings Settings
	if err := envconfig.Process(EnvPrefix, &settings); err != nil {
		return Settings{}, errors.NewConfigurationError("failed to read environment settings", err)
	}
	if value, ok := os.LookupEnv(EnvPrefix + "_PORT"); ok && value != "" {
		settings.PortExplicit = true
	}
	return settings, nil
}

func (s Settings) ZapConfig() logging.ZapConfig {
	config := logging.DefaultZapConfig()
	config.Level = s.LogLevel
	config.Format = s.LogFormat
	config.Output = s.LogOutput
	return config
}

func (s Settings) LogSinkConfig() logconfig.LogSinkConfig {
	config := logconfig.DefaultLogSinkConfig(s.LogDir)
	config.MaxLines = s.LogMaxLines
	return config
}

func (s Settings) FrontendOptions() api.FrontendOptions {
	return api.FrontendOptions{
		LauncherEnv: s.Env,
		ViteHost:    s.ViteHost,
		VitePort:    s.VitePort,
	}
}

func (s Settings) RateLimitConfig() api.RateLimitConfig {
	burst := s.RateLimitBurst
	if burst <= 0 {
		burst = s.RateLimitRPS
	}
	return api.RateLimitConfig{
		RequestsPerSecond: s.RateLimitRPS,
		Burst:             burst,
	}
}
