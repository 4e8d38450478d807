package launcher

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logcollection"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processtracker"
	"github.com/core-tools/hsu-launcher/pkg/shell"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultStartCeiling   = 120 * time.Second
	DefaultRefreshTimeout = 3 * time.Second

	refreshConcurrency = 8
)

const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Result is the structured outcome of Launch and Stop
type Result struct {
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	OpenURLs []string `json:"open_urls,omitempty"`

	// Err carries the typed failure for transports; it is never serialized
	Err error `json:"-"`
}

func (r Result) Succeeded() bool {
	return r.Status == ResultSuccess
}

// AppView joins a definition with its runtime status
type AppView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Workspace string    `json:"workspace"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	LastCheck time.Time `json:"last_check"`
	Ports     []int     `json:"ports"`
	OpenURLs  []string  `json:"open_urls"`
}

// ProcessTracker owns process handles per app
type ProcessTracker interface {
	Register(appID string, proc *os.Process)
	Lookup(appID string) ([]int, bool)
	Alive(appID string) bool
	ExitStatus(appID string) (bool, int)
	Terminate(ctx context.Context, appID string) (processtracker.TerminationResult, error)
}

// Recorder receives lifecycle counters, e.g. Prometheus metrics
type Recorder interface {
	RecordLaunch(appID, outcome string)
	RecordStop(appID, outcome string)
	SetAppsByStatus(counts map[string]int)
}

type Options struct {
	PollInterval   time.Duration
	StartCeiling   time.Duration
	RefreshTimeout time.Duration
	Host           shell.HostOS
	HistorySize    int
}

type Dependencies struct {
	Repository appconfig.Repository
	Tracker    ProcessTracker
	Spawner    process.Spawner
	Prober     monitoring.Prober
	Logs       logcollection.LogSink

	// optional
	OpenURLs *OpenURLResolver
	Recorder Recorder
}

// Manager drives the Stopped/Starting/Running/Error lifecycle of every app.
// All coordination is per app: different apps never wait on each other.
type Manager struct {
	deps    Dependencies
	options Options
	logger  logging.Logger

	mutex sync.RWMutex
	slots map[string]*appSlot

	// ctx outlives requests and bounds background poll tasks
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// appSlot is the per-app coordination point
type appSlot struct {
	// mutex guards gen, launching and every status write
	mutex sync.Mutex

	// opMutex serializes the spawn and terminate phases
	opMutex sync.Mutex

	// gen increases with every launch and stop; writers holding an older value are superseded
	gen       uint64
	launching bool
	state     *stateMachine
}

func NewManager(deps Dependencies, options Options, logger logging.Logger) *Manager {
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.StartCeiling <= 0 {
		options.StartCeiling = DefaultStartCeiling
	}
	if options.RefreshTimeout <= 0 {
		options.RefreshTimeout = DefaultRefreshTimeout
	}
	if options.Host == "" {
		options.Host = shell.DetectHost()
	}
	if deps.OpenURLs == nil {
		deps.OpenURLs = NewOpenURLResolver(options.Host)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		deps:    deps,
		options: options,
		logger:  logger,
		slots:   make(map[string]*appSlot),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (m *Manager) slot(id string) *appSlot {
	m.mutex.RLock()
	slot, ok := m.slots[id]
	m.mutex.RUnlock()
	if ok {
		return slot
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if slot, ok = m.slots[id]; !ok {
		slot = &appSlot{state: newStateMachine(id, m.options.HistorySize, m.logger)}
		m.slots[id] = slot
	}
	return slot
}

func (m *Manager) existingSlot(id string) *appSlot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.slots[id]
}

// setState writes a status unless a newer launch or stop superseded gen
func (m *Manager) setState(slot *appSlot, gen uint64, status Status, message string) bool {
	slot.mutex.Lock()
	defer slot.mutex.Unlock()
	if slot.gen != gen {
		return false
	}
	if err := slot.state.Transition(status, message); err != nil {
		m.logger.Warnf("Rejected state transition: %v", err)
		return false
	}
	return true
}

func (s *appSlot) isCurrent(gen uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.gen == gen
}

func (s *appSlot) finishLaunch(gen uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.gen == gen {
		s.launching = false
	}
}

// Launch starts the app unless it is already healthy, and waits for the outcome or ctx
func (m *Manager) Launch(ctx context.Context, id string) Result {
	def, err := m.deps.Repository.Get(ctx, id)
	if err != nil {
		m.recordLaunch(id, ResultError)
		return errorResult(err)
	}

	slot := m.slot(id)

	slot.mutex.Lock()
	if slot.launching {
		slot.mutex.Unlock()
		m.logger.Infof("Launch rejected, app is already starting, id: %s", id)
		m.recordLaunch(id, ResultError)
		return errorResult(errors.NewAlreadyStartingError("already starting", nil).WithContext("app_id", id))
	}
	if err := slot.state.Transition(StatusStarting, "checking health"); err != nil {
		slot.mutex.Unlock()
		return errorResult(err)
	}
	slot.gen++
	slot.launching = true
	gen := slot.gen
	slot.mutex.Unlock()

	m.logger.Infof("Launching app, id: %s", id)

	checks := healthChecks(def, m.options.RefreshTimeout)
	if m.healthy(ctx, id, checks) {
		defer slot.finishLaunch(gen)
		urls := m.resolveOpenURLs(ctx, def)
		if !m.setState(slot, gen, StatusRunning, "already running") {
			return m.superseded(id)
		}
		m.logger.Infof("App is already running, id: %s", id)
		m.recordLaunch(id, ResultSuccess)
		return Result{Status: ResultSuccess, Message: "already running", OpenURLs: urls}
	}

	if result, ok := m.spawn(ctx, slot, gen, def); !ok {
		slot.finishLaunch(gen)
		m.recordLaunch(id, ResultError)
		return result
	}

	done := make(chan Result, 1)
	m.wg.Add(1)
	go m.poll(slot, gen, def, done)

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		m.logger.Infof("Launch request ended before the app became healthy, id: %s", id)
		return Result{Status: ResultError, Message: "launch still in progress", Err: errors.NewCancelledError("launch still in progress", ctx.Err())}
	}
}

// spawn runs every start step of def under the slot's operation lock
func (m *Manager) spawn(ctx context.Context, slot *appSlot, gen uint64, def appconfig.AppDefinition) (Result, bool) {
	slot.opMutex.Lock()
	defer slot.opMutex.Unlock()

	id := def.ID
	if !slot.isCurrent(gen) {
		return m.superseded(id), false
	}

	attempt := uuid.NewString()
	m.deps.Logs.Logf(id, "=== Starting %s (attempt %s) ===", def.Name, attempt)

	workspace := shell.ExpandWorkspace(def.Workspace)
	if !m.workspaceExists(workspace) {
		message := "workspace not found: " + workspace
		m.deps.Logs.Logf(id, "ERROR: %s", message)
		m.setState(slot, gen, StatusError, message)
		m.logger.Errorf("Launch failed, id: %s, attempt: %s, error: %s", id, attempt, message)
		return Result{Status: ResultError, Message: message, Err: errors.NewWorkspaceNotFoundError(message, nil).WithContext("app_id", id)}, false
	}

	for i, step := range def.Start {
		invocation, err := shell.Resolve(step.ShellStep(), workspace, m.options.Host)
		if err == nil {
			m.deps.Logs.Logf(id, "Executing: %s", invocation)
			if invocation.WorkDir != "" {
				m.deps.Logs.Logf(id, "Working directory: %s", invocation.WorkDir)
			}

			// the app must outlive the request that launched it
			proc, stdout, spawnErr := m.deps.Spawner.Spawn(m.ctx, id, invocation)
			if spawnErr == nil {
				m.deps.Logs.CollectFromStream(id, stdout)
				m.deps.Tracker.Register(id, proc)
				m.deps.Logs.Logf(id, "Process started with PID: %d", proc.Pid)
				continue
			}
			err = spawnErr
		}

		message := "spawn failed: " + errors.MessageOf(err)
		if !errors.IsSpawnFailedError(err) {
			err = errors.NewSpawnFailedError("spawn failed", err).WithContext("app_id", id)
		}
		m.deps.Logs.Logf(id, "ERROR: step %d: %s", i+1, message)
		m.setState(slot, gen, StatusError, message)
		m.logger.Errorf("Launch failed, id: %s, attempt: %s, step: %d, error: %v", id, attempt, i+1, err)
		return Result{Status: ResultError, Message: message, Err: err}, false
	}

	m.logger.Infof("App processes started, id: %s, attempt: %s, steps: %d", id, attempt, len(def.Start))
	return Result{}, true
}

// poll waits for the launch of gen to become healthy, fail or time out
func (m *Manager) poll(slot *appSlot, gen uint64, def appconfig.AppDefinition, done chan<- Result) {
	defer m.wg.Done()

	id := def.ID
	checks := healthChecks(def, 0)
	budget := startBudget(checks, m.options.StartCeiling)
	deadline := time.Now().Add(budget)

	ctx, cancel := context.WithDeadline(m.ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(m.options.PollInterval)
	defer ticker.Stop()

	finish := func(result Result) {
		slot.finishLaunch(gen)
		if result.Succeeded() {
			m.recordLaunch(id, ResultSuccess)
		} else {
			m.recordLaunch(id, ResultError)
		}
		done <- result
	}

	for {
		if !slot.isCurrent(gen) {
			finish(m.superseded(id))
			return
		}

		if m.healthy(ctx, id, checks) {
			urls := m.resolveOpenURLs(ctx, def)
			if !m.setState(slot, gen, StatusRunning, "started successfully") {
				finish(m.superseded(id))
				return
			}
			m.deps.Logs.Logf(id, "Application is healthy")
			m.logger.Infof("App started successfully, id: %s", id)
			finish(Result{Status: ResultSuccess, Message: "started successfully", OpenURLs: urls})
			return
		}

		if exited, code := m.deps.Tracker.ExitStatus(id); exited && code != 0 {
			message := fmt.Sprintf("process exited with code %d", code)
			if !m.setState(slot, gen, StatusError, message) {
				finish(m.superseded(id))
				return
			}
			m.deps.Logs.Logf(id, "ERROR: %s", message)
			m.logger.Errorf("Launch failed, id: %s, error: %s", id, message)
			finish(Result{Status: ResultError, Message: message, Err: errors.NewProcessError(message, nil).WithContext("app_id", id)})
			return
		}

		if !time.Now().Before(deadline) {
			// processes are left running so the user can inspect them
			message := fmt.Sprintf("health check timeout after %s", budget)
			if !m.setState(slot, gen, StatusError, message) {
				finish(m.superseded(id))
				return
			}
			m.deps.Logs.Logf(id, "ERROR: %s", message)
			m.logger.Errorf("Launch failed, id: %s, error: %s", id, message)
			finish(Result{Status: ResultError, Message: message, Err: errors.NewHealthCheckTimeoutError(message, nil).WithContext("app_id", id)})
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			if m.ctx.Err() != nil {
				finish(Result{Status: ResultError, Message: "launcher shutting down", Err: errors.NewCancelledError("launcher shutting down", m.ctx.Err())})
				return
			}
		}
	}
}

// Stop terminates the app's processes; it supersedes any launch in flight
func (m *Manager) Stop(ctx context.Context, id string) Result {
	slot := m.existingSlot(id)
	if slot == nil {
		if _, err := m.deps.Repository.Get(ctx, id); err != nil {
			m.recordStop(id, ResultError)
			return errorResult(err)
		}
		slot = m.slot(id)
	}

	slot.opMutex.Lock()
	defer slot.opMutex.Unlock()

	slot.mutex.Lock()
	slot.gen++
	slot.launching = false
	gen := slot.gen
	if err := slot.state.Transition(StatusStopped, "stopping"); err != nil {
		m.logger.Warnf("Rejected state transition: %v", err)
	}
	slot.mutex.Unlock()

	m.logger.Infof("Stopping app, id: %s", id)

	result, err := m.deps.Tracker.Terminate(ctx, id)
	switch {
	case err == nil && (result == processtracker.Terminated || result == processtracker.NotFound):
		m.setState(slot, gen, StatusStopped, "stopped")
		if result == processtracker.Terminated {
			m.deps.Logs.Logf(id, "Application stopped")
		}
		m.recordStop(id, ResultSuccess)
		return Result{Status: ResultSuccess, Message: "Application stopped"}

	default:
		if err == nil {
			err = errors.NewInternalError(fmt.Sprintf("unexpected termination result %s", result), nil)
		}
		message := "termination incomplete: " + errors.MessageOf(err)
		m.setState(slot, gen, StatusError, message)
		m.deps.Logs.Logf(id, "ERROR: %s", message)
		m.logger.Errorf("Stop failed, id: %s, error: %v", id, err)
		m.recordStop(id, ResultError)
		return Result{Status: ResultError, Message: message, Err: err}
	}
}

// Status returns the current runtime status; unknown apps read as Stopped
func (m *Manager) Status(id string) AppStatus {
	if slot := m.existingSlot(id); slot != nil {
		return slot.state.Current()
	}
	return AppStatus{Status: StatusStopped}
}

// History returns the recorded status transitions of id, oldest first
func (m *Manager) History(id string) []StateTransition {
	if slot := m.existingSlot(id); slot != nil {
		return slot.state.History()
	}
	return nil
}

// List refreshes every app and returns the joined views in definition order
func (m *Manager) List(ctx context.Context) ([]AppView, error) {
	defs, err := m.refresh(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]AppView, 0, len(defs))
	for _, def := range defs {
		status := m.Status(def.ID)
		urls, _ := m.deps.OpenURLs.Resolve(ctx, def)
		ports := def.Ports
		if ports == nil {
			ports = []int{}
		}
		views = append(views, AppView{
			ID:        def.ID,
			Name:      def.Name,
			Workspace: def.Workspace,
			Status:    status.Status,
			Message:   status.Message,
			LastCheck: status.LastCheck,
			Ports:     ports,
			OpenURLs:  urls,
		})
	}
	return views, nil
}

// Refresh re-evaluates every app that has no launch in flight
func (m *Manager) Refresh(ctx context.Context) error {
	_, err := m.refresh(ctx)
	return err
}

func (m *Manager) refresh(ctx context.Context) ([]appconfig.AppDefinition, error) {
	defs, err := m.deps.Repository.List(ctx)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, def := range defs {
		def := def
		g.Go(func() error {
			m.refreshOne(gctx, def)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m.publishStatusCounts(defs)
	return defs, nil
}

func (m *Manager) refreshOne(ctx context.Context, def appconfig.AppDefinition) {
	id := def.ID
	slot := m.slot(id)

	slot.mutex.Lock()
	gen, launching := slot.gen, slot.launching
	slot.mutex.Unlock()
	if launching {
		return
	}

	m.reap(ctx, slot, id)

	alive := m.deps.Tracker.Alive(id)
	healthy := alive
	if checks := healthChecks(def, m.options.RefreshTimeout); len(checks) > 0 {
		healthy = m.deps.Prober.Probe(ctx, checks).Healthy
	}

	slot.mutex.Lock()
	defer slot.mutex.Unlock()
	if slot.gen != gen || slot.launching {
		return
	}

	current := slot.state.Current().Status
	var err error
	switch {
	case healthy:
		err = slot.state.Transition(StatusRunning, "running")
	case current == StatusError:
		// keep the failure visible until the next launch or stop
	case alive:
		if current != StatusStarting {
			err = slot.state.Transition(StatusStarting, "starting")
		}
	default:
		err = slot.state.Transition(StatusStopped, "stopped")
	}
	if err != nil {
		m.logger.Warnf("Rejected state transition during refresh: %v", err)
	}
}

// reap drops the handles of an app whose processes have all exited
func (m *Manager) reap(ctx context.Context, slot *appSlot, id string) {
	if !slot.opMutex.TryLock() {
		return
	}
	defer slot.opMutex.Unlock()

	if exited, _ := m.deps.Tracker.ExitStatus(id); !exited {
		return
	}
	if _, err := m.deps.Tracker.Terminate(ctx, id); err != nil {
		m.logger.Warnf("Failed to reap exited processes, id: %s, error: %v", id, err)
	}
}

// Add stores a new definition; an existing ID is a conflict
func (m *Manager) Add(ctx context.Context, def appconfig.AppDefinition) error {
	if err := m.deps.Repository.Create(ctx, def); err != nil {
		return err
	}
	m.slot(def.ID)
	m.logger.Infof("App added, id: %s", def.ID)
	return nil
}

// UpdateWorkspace changes only the workspace of an existing definition
func (m *Manager) UpdateWorkspace(ctx context.Context, id, workspace string) error {
	def, err := m.deps.Repository.Get(ctx, id)
	if err != nil {
		return err
	}
	def.Workspace = workspace
	if err := m.deps.Repository.Upsert(ctx, def); err != nil {
		return err
	}
	m.logger.Infof("App workspace updated, id: %s, workspace: %s", id, workspace)
	return nil
}

// Delete stops the app and then removes its definition and runtime state
func (m *Manager) Delete(ctx context.Context, id string) error {
	if _, err := m.deps.Repository.Get(ctx, id); err != nil {
		return err
	}

	if result := m.Stop(ctx, id); !result.Succeeded() {
		return result.Err
	}

	if err := m.deps.Repository.Delete(ctx, id); err != nil {
		return err
	}

	m.mutex.Lock()
	delete(m.slots, id)
	m.mutex.Unlock()
	m.deps.Logs.Remove(id)

	m.logger.Infof("App deleted, id: %s", id)
	return nil
}

// Logs returns up to lines most recent log lines of id
func (m *Manager) Logs(id string, lines int) (string, error) {
	return m.deps.Logs.Read(id, lines)
}

// Shutdown ends background poll tasks; app processes are left running
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("timed out waiting for launch tasks", ctx.Err())
	}
}

func (m *Manager) healthy(ctx context.Context, id string, checks []monitoring.Check) bool {
	if len(checks) == 0 {
		return m.deps.Tracker.Alive(id)
	}
	return m.deps.Prober.Probe(ctx, checks).Healthy
}

func (m *Manager) workspaceExists(workspace string) bool {
	path := workspace
	if m.options.Host == shell.HostWSL {
		path = shell.ToPosixPath(workspace)
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (m *Manager) resolveOpenURLs(ctx context.Context, def appconfig.AppDefinition) []string {
	urls, warnings := m.deps.OpenURLs.Resolve(ctx, def)
	for _, warning := range warnings {
		m.deps.Logs.Logf(def.ID, "WARN: %s", warning)
	}
	return urls
}

func (m *Manager) superseded(id string) Result {
	m.logger.Infof("Launch superseded by stop, id: %s", id)
	return Result{Status: ResultError, Message: "launch superseded by stop", Err: errors.NewCancelledError("launch superseded by stop", nil).WithContext("app_id", id)}
}

func (m *Manager) recordLaunch(id, outcome string) {
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordLaunch(id, outcome)
	}
}

func (m *Manager) recordStop(id, outcome string) {
	if m.deps.Recorder != nil {
		m.deps.Recorder.RecordStop(id, outcome)
	}
}

func (m *Manager) publishStatusCounts(defs []appconfig.AppDefinition) {
	if m.deps.Recorder == nil {
		return
	}
	counts := make(map[string]int, len(allStatuses))
	for _, status := range allStatuses {
		counts[string(status)] = 0
	}
	for _, def := range defs {
		counts[string(m.Status(def.ID).Status)]++
	}
	m.deps.Recorder.SetAppsByStatus(counts)
}

// healthChecks converts definitions to probe checks; a positive limit caps each timeout
func healthChecks(def appconfig.AppDefinition, limit time.Duration) []monitoring.Check {
	checks := make([]monitoring.Check, 0, len(def.Health))
	for _, health := range def.Health {
		timeout := health.Timeout()
		if limit > 0 && (timeout <= 0 || timeout > limit) {
			timeout = limit
		}
		checks = append(checks, monitoring.Check{URL: health.URL, Timeout: timeout})
	}
	return checks
}

// startBudget is the sum of the check timeouts, or ceiling when there are none
func startBudget(checks []monitoring.Check, ceiling time.Duration) time.Duration {
	if len(checks) == 0 {
		return ceiling
	}
	var budget time.Duration
	for _, check := range checks {
		budget += check.Timeout
	}
	if budget <= 0 {
		return ceiling
	}
	return budget
}

func errorResult(err error) Result {
	return Result{Status: ResultError, Message: errors.MessageOf(err), Err: err}
}
