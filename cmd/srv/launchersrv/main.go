package main

import (
	"fmt"
	"os"
	"time"

	coreLogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/master"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Port         int    `long:"port" description:"HTTP port to listen on (overrides LAUNCHER_PORT)"`
	AppsFile     string `long:"apps" description:"path to apps.yaml (overrides LAUNCHER_APPS_FILE)"`
	LogDir       string `long:"log-dir" description:"directory for per-app logs (overrides LAUNCHER_LOG_DIR)"`
	ControlPort  int    `long:"control-port" description:"gRPC control port, 0 disables it (overrides LAUNCHER_CONTROL_PORT)"`
	OpenBrowser  bool   `long:"open-browser" description:"open the UI in the default browser"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run the launcher (debug feature)"`
	ValidateOnly bool   `long:"validate-only" description:"validate settings and apps file, then exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-server , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	settings, err := master.LoadSettings()
	if err != nil {
		fmt.Printf("Failed to load settings: %v\n", err)
		os.Exit(1)
	}
	applyFlags(&settings, opts)

	zapLogger, err := logging.NewZapLogger(settings.ZapConfig())
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logFuncs := logging.ZapLogFuncs(zapLogger.Sugar())

	coreLogger := coreLogging.NewLogger(
		logPrefix("hsu-core"), coreLogging.LogFuncs{
			Debugf: logFuncs.Debugf,
			Infof:  logFuncs.Infof,
			Warnf:  logFuncs.Warnf,
			Errorf: logFuncs.Errorf,
		})
	launcherLogger := logging.NewLogger(logPrefix("hsu-launcher"), logFuncs)

	launcherLogger.Infof("opts: %+v", opts)

	if opts.ValidateOnly {
		if err := master.ValidateSettings(settings); err != nil {
			launcherLogger.Errorf("Settings validation failed: %v", err)
			os.Exit(1)
		}
		if err := master.ValidateAppsFile(settings.AppsFile); err != nil {
			launcherLogger.Errorf("Apps file validation failed: %v", err)
			os.Exit(1)
		}
		launcherLogger.Infof("Settings and apps file %s are valid", settings.AppsFile)
		return
	}

	runOptions := master.RunOptions{
		RunDuration: time.Duration(opts.RunDuration) * time.Second,
		OpenBrowser: opts.OpenBrowser,
	}
	if err := master.Run(settings, runOptions, coreLogger, launcherLogger); err != nil {
		launcherLogger.Errorf("Launcher failed: %v", err)
		zapLogger.Sync()
		os.Exit(1)
	}
}

func applyFlags(settings *master.Settings, opts flagOptions) {
	if opts.Port != 0 {
		settings.Port = opts.Port
		settings.PortExplicit = true
	}
	if opts.AppsFile != "" {
		settings.AppsFile = opts.AppsFile
	}
	if opts.LogDir != "" {
		settings.LogDir = opts.LogDir
	}
	if opts.ControlPort != 0 {
		settings.ControlPort = opts.ControlPort
	}
}
