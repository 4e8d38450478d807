package master

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/toqueteos/webbrowser"
	"golang.org/x/sync/errgroup"
)

type RunOptions struct {
	// RunDuration stops the launcher after the given time; 0 runs until a signal arrives
	RunDuration time.Duration
	OpenBrowser bool
}

func Run(settings Settings, options RunOptions, coreLogger corelogging.Logger, logger logging.Logger) error {
	logger.Infof("Launcher runner starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	logger.Infof("Using APPS FILE: %s", settings.AppsFile)

	if err := ValidateAppsFile(settings.AppsFile); err != nil {
		return err
	}

	master, err := NewMaster(settings, coreLogger, logger)
	if err != nil {
		return errors.NewInternalError("failed to create launcher", err)
	}

	if err := master.Start(ctx); err != nil {
		return err
	}

	if options.OpenBrowser {
		url := master.URL() + "/"
		if err := webbrowser.Open(url); err != nil {
			logger.Warnf("Failed to open browser, url: %s, error: %v", url, err)
		}
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer cancel()
		select {
		case receivedSignal := <-sig:
			logger.Infof("Launcher runner received signal: %v", receivedSignal)
		case <-groupCtx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				logger.Infof("Launcher runner timed out")
			}
		}
		return nil
	})
	group.Go(func() error {
		select {
		case err := <-master.ServeErrors():
			return errors.NewNetworkError("HTTP server failed", err)
		case <-groupCtx.Done():
			return nil
		}
	})
	runErr := group.Wait()

	// Reset context to background to enable graceful shutdown
	master.Stop(context.Background())

	logger.Infof("Launcher runner stopped")

	return runErr
}

// ValidateAppsFile loads and validates the apps file without running anything.
// A missing file is valid: the launcher starts with no apps.
func ValidateAppsFile(appsFile string) error {
	if _, err := appconfig.LoadAppsFromFile(appsFile); err != nil {
		return errors.NewValidationError("apps file validation failed", err).WithContext("apps_file", appsFile)
	}
	return nil
}
