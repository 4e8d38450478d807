package master

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/api"
	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/control"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logcollection"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/metrics"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processfile"
	"github.com/core-tools/hsu-launcher/pkg/processtracker"
	"github.com/core-tools/hsu-launcher/pkg/resourceusage"
)

const (
	readHeaderTimeout = 10 * time.Second
	adoptTimeout      = 10 * time.Second
)

// MasterState represents the current state of the launcher service
type MasterState string

const (
	// MasterStateNotStarted is the initial state before Start() is called
	MasterStateNotStarted MasterState = "not_started"

	// MasterStateRunning means the HTTP API is serving
	MasterStateRunning MasterState = "running"

	MasterStateStopping MasterState = "stopping"
	MasterStateStopped  MasterState = "stopped"
)

// Master owns every long-lived component of the launcher and their lifecycle
type Master struct {
	settings   Settings
	logger     logging.Logger
	coreLogger corelogging.Logger

	metrics *metrics.Metrics
	sink    logcollection.LogSink
	tracker *processtracker.Tracker
	repo    appconfig.Repository
	manager *launcher.Manager
	usage   *resourceusage.Monitor
	router  http.Handler

	httpServer    *http.Server
	listener      net.Listener
	serveErrors   chan error
	controlServer corecontrol.Server

	mutex       sync.Mutex
	masterState MasterState
}

// NewMaster builds the component graph; nothing listens until Start.
// coreLogger may be nil when the control service is disabled.
func NewMaster(settings Settings, coreLogger corelogging.Logger, logger logging.Logger) (*Master, error) {
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	m := &Master{
		settings:    settings,
		logger:      logger,
		coreLogger:  coreLogger,
		metrics:     metrics.NewMetrics(),
		serveErrors: make(chan error, 1),
		masterState: MasterStateNotStarted,
	}

	m.repo = appconfig.NewFileRepository(settings.AppsFile, logging.WithPrefix(logger, "apps , "))

	pidFiles := processfile.NewProcessFileManager(processfile.ProcessFileConfig{
		BaseDirectory: settings.StateDir,
	}, logger)
	m.tracker = processtracker.NewTracker(processtracker.Options{
		GracePeriod: settings.StopGrace,
		PIDFiles:    pidFiles,
	}, logging.WithPrefix(logger, "tracker , "))

	sinkConfig := settings.LogSinkConfig()
	if sinkConfig.Directory == "" {
		sinkConfig.Directory = pidFiles.GenerateLogDirectoryPath()
	}
	sink, err := logcollection.NewLogSink(sinkConfig, m.metrics.ObserveLogLines, logger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create log sink", err).WithContext("log_dir", sinkConfig.Directory)
	}
	m.sink = sink

	prober := monitoring.NewHTTPProber(monitoring.HTTPProberOptions{
		Observer: m.metrics.ObserveProbe,
	}, logging.WithPrefix(logger, "prober , "))

	m.manager = launcher.NewManager(launcher.Dependencies{
		Repository: m.repo,
		Tracker:    m.tracker,
		Spawner:    process.NewStdSpawner(process.SpawnOptions{}, logger),
		Prober:     prober,
		Logs:       sink,
		Recorder:   m.metrics,
	}, launcher.Options{
		PollInterval: settings.PollInterval,
		StartCeiling: settings.StartCeiling,
	}, logging.WithPrefix(logger, "launcher , "))

	if settings.UsageInterval > 0 {
		m.usage = resourceusage.NewMonitor(m.repo, m.tracker, m.observeUsage, resourceusage.Options{
			Interval: settings.UsageInterval,
		}, logging.WithPrefix(logger, "usage , "))
	}

	frontend := settings.FrontendOptions()
	m.router = api.NewRouter(m.manager, api.RouterOptions{
		Frontend:       frontend,
		CORS:           api.DefaultCORSConfig(frontend.ViteOrigin()),
		RateLimit:      settings.RateLimitConfig(),
		Metrics:        m.metrics,
		MetricsHandler: m.metrics.Handler(),
	}, logger)

	if settings.ControlPort > 0 {
		if coreLogger == nil {
			return nil, errors.NewConfigurationError("control service requires a core logger", nil)
		}
		server, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: settings.ControlPort}, coreLogger)
		if err != nil {
			return nil, errors.NewInternalError("failed to create control server", err).WithContext("control_port", settings.ControlPort)
		}

		// Register core services
		coreHandler := coredomain.NewDefaultHandler(coreLogger)
		corecontrol.RegisterGRPCServerHandler(server.GRPC(), coreHandler, coreLogger)

		// Register launcher services
		launcherHandler := NewLauncherHandler(m.manager, m.GetMasterState, logger)
		control.RegisterGRPCServerHandler(server.GRPC(), launcherHandler, logger)

		m.controlServer = server
	}

	return m, nil
}

// Start adopts processes left by an earlier run, seeds statuses and starts serving
func (m *Master) Start(ctx context.Context) error {
	m.logger.Infof("Starting launcher...")

	listener, err := Listen(m.settings.Host, m.settings.Port, m.settings.PortExplicit)
	if err != nil {
		return err
	}
	m.listener = listener
	if port := listener.Addr().(*net.TCPAddr).Port; port != m.settings.Port {
		m.logger.Warnf("Port %d is in use, using port %d instead", m.settings.Port, port)
	}

	m.adoptRunning(ctx)
	if err := m.manager.Refresh(ctx); err != nil {
		m.logger.Warnf("Initial status refresh failed: %v", err)
	}

	m.httpServer = &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := m.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.logger.Errorf("HTTP server failed: %v", err)
			m.serveErrors <- err
		}
	}()

	if m.usage != nil {
		if err := m.usage.Start(context.Background()); err != nil {
			m.logger.Warnf("Failed to start resource monitoring: %v", err)
		}
	}

	if m.controlServer != nil {
		m.controlServer.Start(ctx)
		m.logger.Infof("Control service listening, port: %d", m.settings.ControlPort)
	}

	m.setMasterState(MasterStateRunning)

	m.logger.Infof("Launcher started, url: %s, apps file: %s", m.URL(), m.settings.AppsFile)
	return nil
}

func (m *Master) observeUsage(appID string, usage resourceusage.Usage, running bool) {
	m.metrics.ObserveUsage(appID, usage.MemoryRSS, usage.CPUPercent, usage.Processes, running)
}

func (m *Master) adoptRunning(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, adoptTimeout)
	defer cancel()

	defs, err := m.repo.List(ctx)
	if err != nil {
		m.logger.Warnf("Failed to list apps for adoption: %v", err)
		return
	}
	for _, def := range defs {
		if count := m.tracker.Adopt(ctx, def.ID); count > 0 {
			m.logger.Infof("Re-attached to running app, id: %s, processes: %d", def.ID, count)
		}
	}
}

// Stop shuts the servers down and flushes logs. App processes keep running.
func (m *Master) Stop(ctx context.Context) {
	m.logger.Infof("Stopping launcher...")

	m.setMasterState(MasterStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forcedShutdownTimeout := m.settings.ShutdownTimeout
	if forcedShutdownTimeout <= 0 {
		forcedShutdownTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, forcedShutdownTimeout)
	defer cancel()

	errorCollection := errors.NewErrorCollection()

	if m.httpServer != nil {
		if err := m.httpServer.Shutdown(ctx); err != nil {
			errorCollection.Add(errors.NewTimeoutError("HTTP server shutdown incomplete", err))
		}
	}

	if m.controlServer != nil {
		m.controlServer.Shutdown(ctx)
	}

	if m.usage != nil {
		m.usage.Stop()
	}

	if err := m.manager.Shutdown(ctx); err != nil {
		errorCollection.Add(err)
	}

	if err := m.sink.Close(); err != nil {
		errorCollection.Add(errors.NewIOError("failed to close log sink", err))
	}

	if errorCollection.HasErrors() {
		m.logger.Errorf("Launcher stopped with errors: %v", errorCollection.Error())
	}

	m.setMasterState(MasterStateStopped)

	m.logger.Infof("Launcher stopped")
}

// URL is the address the HTTP API serves on, valid after Start
func (m *Master) URL() string {
	if m.listener == nil {
		return fmt.Sprintf("http://%s:%d", m.settings.Host, m.settings.Port)
	}
	return "http://" + m.listener.Addr().String()
}

// ServeErrors delivers a fatal HTTP serve error
func (m *Master) ServeErrors() <-chan error {
	return m.serveErrors
}

func (m *Master) Manager() *launcher.Manager {
	return m.manager
}

// Handler exposes the HTTP routes, mainly for tests
func (m *Master) Handler() http.Handler {
	return m.router
}

// GetMasterState returns the current state of the master
func (m *Master) GetMasterState() MasterState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.masterState
}

func (m *Master) setMasterState(state MasterState) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logger.Debugf("Launcher state, %s -> %s", m.masterState, state)
	m.masterState = state
}
