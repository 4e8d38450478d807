package launcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logcollection"
	"github.com/core-tools/hsu-launcher/pkg/logcollection/config"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processtracker"
	"github.com/core-tools/hsu-launcher/pkg/shell"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSpawner struct {
	inner   process.Spawner
	count   atomic.Int32
	onSpawn func()
}

func (s *countingSpawner) Spawn(ctx context.Context, id string, invocation shell.Invocation) (*os.Process, io.ReadCloser, error) {
	s.count.Add(1)
	proc, stdout, err := s.inner.Spawn(ctx, id, invocation)
	if err == nil && s.onSpawn != nil {
		s.onSpawn()
	}
	return proc, stdout, err
}

type fakeRecorder struct {
	mutex    sync.Mutex
	launches map[string]int
	stops    map[string]int
	counts   map[string]int
}

func (r *fakeRecorder) RecordLaunch(appID, outcome string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.launches[appID+"/"+outcome]++
}

func (r *fakeRecorder) RecordStop(appID, outcome string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.stops[appID+"/"+outcome]++
}

func (r *fakeRecorder) SetAppsByStatus(counts map[string]int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.counts = counts
}

type harness struct {
	manager  *Manager
	repo     *appconfig.FileRepository
	tracker  *processtracker.Tracker
	spawner  *countingSpawner
	logs     logcollection.LogSink
	recorder *fakeRecorder
}

func newHarness(t *testing.T, defs ...appconfig.AppDefinition) *harness {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses POSIX shell commands")
	}

	dir := t.TempDir()
	repo := appconfig.NewFileRepository(filepath.Join(dir, "apps.yaml"), logging.Nop())
	for _, def := range defs {
		require.NoError(t, repo.Create(context.Background(), def))
	}

	logs, err := logcollection.NewLogSink(config.LogSinkConfig{Directory: filepath.Join(dir, "logs"), MaxLines: 200}, nil, logging.Nop())
	require.NoError(t, err)

	tracker := processtracker.NewTracker(processtracker.Options{
		GracePeriod: 500 * time.Millisecond,
		KillTimeout: time.Second,
	}, logging.Nop())

	h := &harness{
		repo:     repo,
		tracker:  tracker,
		spawner:  &countingSpawner{inner: process.NewStdSpawner(process.SpawnOptions{}, logging.Nop())},
		logs:     logs,
		recorder: &fakeRecorder{launches: map[string]int{}, stops: map[string]int{}},
	}
	h.manager = NewManager(Dependencies{
		Repository: repo,
		Tracker:    tracker,
		Spawner:    h.spawner,
		Prober:     monitoring.NewHTTPProber(monitoring.HTTPProberOptions{}, logging.Nop()),
		Logs:       logs,
		Recorder:   h.recorder,
	}, Options{
		PollInterval:   20 * time.Millisecond,
		StartCeiling:   2 * time.Second,
		RefreshTimeout: 500 * time.Millisecond,
		Host:           shell.HostLinux,
	}, logging.Nop())

	t.Cleanup(func() {
		ctx := context.Background()
		apps, _ := repo.List(ctx)
		for _, def := range apps {
			tracker.Terminate(ctx, def.ID)
		}
		h.manager.Shutdown(ctx)
		logs.Close()
	})
	return h
}

// healthEndpoint answers 200 once healthy is set and 503 before
func healthEndpoint(t *testing.T) (string, *atomic.Bool) {
	t.Helper()
	healthy := &atomic.Bool{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	return server.URL + "/health", healthy
}

func appDef(t *testing.T, id, cmd string, healthURL string, timeoutSec int) appconfig.AppDefinition {
	def := appconfig.AppDefinition{
		ID:        id,
		Name:      strings.ToUpper(id),
		Workspace: t.TempDir(),
		Start:     []appconfig.StartStep{{Cmd: cmd}},
		Open:      []appconfig.OpenURL{{URL: "http://localhost:5173"}},
	}
	if healthURL != "" {
		def.Health = []appconfig.HealthCheck{{URL: healthURL, TimeoutSec: timeoutSec}}
	}
	return def
}

func TestManager_LaunchAlreadyRunning(t *testing.T) {
	url, healthy := healthEndpoint(t)
	healthy.Store(true)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 10))

	result := h.manager.Launch(context.Background(), "web")

	assert.Equal(t, ResultSuccess, result.Status)
	assert.Equal(t, "already running", result.Message)
	assert.Equal(t, []string{"http://localhost:5173"}, result.OpenURLs)
	assert.Equal(t, int32(0), h.spawner.count.Load())
	assert.Equal(t, StatusRunning, h.manager.Status("web").Status)
}

func TestManager_LaunchBecomesHealthy(t *testing.T) {
	url, healthy := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "echo booting; sleep 30", url, 10))
	h.spawner.onSpawn = func() { healthy.Store(true) }

	result := h.manager.Launch(context.Background(), "web")

	require.Equal(t, ResultSuccess, result.Status, result.Message)
	assert.Equal(t, "started successfully", result.Message)
	assert.Equal(t, StatusRunning, h.manager.Status("web").Status)
	assert.True(t, h.tracker.Alive("web"))

	assert.Eventually(t, func() bool {
		logs, err := h.manager.Logs("web", 100)
		return err == nil && strings.Contains(logs, "booting")
	}, 3*time.Second, 10*time.Millisecond)

	logs, err := h.manager.Logs("web", 100)
	require.NoError(t, err)
	assert.Contains(t, logs, "=== Starting WEB (attempt ")
	assert.Contains(t, logs, "Executing: bash -lc echo booting; sleep 30")
	assert.Contains(t, logs, "Process started with PID: ")

	stop := h.manager.Stop(context.Background(), "web")
	assert.Equal(t, ResultSuccess, stop.Status)
	assert.Equal(t, "Application stopped", stop.Message)
	assert.Equal(t, StatusStopped, h.manager.Status("web").Status)
	assert.False(t, h.tracker.Alive("web"))

	assert.Equal(t, 1, h.recorder.launches["web/success"])
	assert.Equal(t, 1, h.recorder.stops["web/success"])
}

func TestManager_ConcurrentLaunchSpawnsOnce(t *testing.T) {
	url, healthy := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 10))
	h.spawner.onSpawn = func() {
		go func() {
			time.Sleep(200 * time.Millisecond)
			healthy.Store(true)
		}()
	}

	const callers = 5
	results := make([]Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.manager.Launch(context.Background(), "web")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.spawner.count.Load())
	successes := 0
	for _, result := range results {
		if result.Succeeded() {
			successes++
			continue
		}
		assert.True(t, errors.IsAlreadyStartingError(result.Err), result.Message)
		assert.Equal(t, "already starting", result.Message)
	}
	assert.GreaterOrEqual(t, successes, 1)
}

func TestManager_LaunchUnknownApp(t *testing.T) {
	h := newHarness(t)

	result := h.manager.Launch(context.Background(), "ghost")

	assert.Equal(t, ResultError, result.Status)
	assert.True(t, errors.IsNotFoundError(result.Err))
}

func TestManager_LaunchWorkspaceNotFound(t *testing.T) {
	def := appDef(t, "web", "sleep 30", "", 0)
	def.Workspace = "/definitely/not/here"
	h := newHarness(t, def)

	result := h.manager.Launch(context.Background(), "web")

	assert.Equal(t, ResultError, result.Status)
	assert.Equal(t, "workspace not found: /definitely/not/here", result.Message)
	assert.True(t, errors.IsWorkspaceNotFoundError(result.Err))
	assert.Equal(t, int32(0), h.spawner.count.Load())

	status := h.manager.Status("web")
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, "workspace not found: /definitely/not/here", status.Message)

	// refresh keeps the failure visible
	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusError, h.manager.Status("web").Status)
	assert.Equal(t, 1, h.recorder.counts["Error"])
}

func TestManager_LaunchProcessExitsWithError(t *testing.T) {
	url, _ := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "exit 3", url, 30))

	result := h.manager.Launch(context.Background(), "web")

	assert.Equal(t, ResultError, result.Status)
	assert.Equal(t, "process exited with code 3", result.Message)
	assert.Equal(t, StatusError, h.manager.Status("web").Status)
}

func TestManager_LaunchTimeoutThenStop(t *testing.T) {
	url, _ := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 1))

	result := h.manager.Launch(context.Background(), "web")

	assert.Equal(t, ResultError, result.Status)
	assert.Equal(t, "health check timeout after 1s", result.Message)
	assert.True(t, errors.IsHealthCheckTimeoutError(result.Err))
	assert.Equal(t, StatusError, h.manager.Status("web").Status)

	// the process is left running for inspection
	assert.True(t, h.tracker.Alive("web"))

	stop := h.manager.Stop(context.Background(), "web")
	assert.Equal(t, ResultSuccess, stop.Status)
	assert.Equal(t, StatusStopped, h.manager.Status("web").Status)
	assert.False(t, h.tracker.Alive("web"))

	logs, err := h.manager.Logs("web", 100)
	require.NoError(t, err)
	assert.Contains(t, logs, "ERROR: health check timeout after 1s")
	assert.Contains(t, logs, "Application stopped")
}

func TestManager_StopSupersedesLaunch(t *testing.T) {
	url, _ := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 30))

	done := make(chan Result, 1)
	go func() { done <- h.manager.Launch(context.Background(), "web") }()

	require.Eventually(t, func() bool { return h.tracker.Alive("web") }, 3*time.Second, 10*time.Millisecond)

	stop := h.manager.Stop(context.Background(), "web")
	assert.Equal(t, ResultSuccess, stop.Status)

	select {
	case result := <-done:
		assert.Equal(t, ResultError, result.Status)
		assert.Equal(t, "launch superseded by stop", result.Message)
	case <-time.After(3 * time.Second):
		t.Fatal("launch did not observe the stop")
	}
	assert.Equal(t, StatusStopped, h.manager.Status("web").Status)

	history := h.manager.History("web")
	require.NotEmpty(t, history)
	assert.Equal(t, StatusStopped, history[len(history)-1].To)
}

func TestManager_LaunchRequestCancelled(t *testing.T) {
	url, _ := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 30))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	result := h.manager.Launch(ctx, "web")

	assert.Equal(t, ResultError, result.Status)
	assert.Equal(t, "launch still in progress", result.Message)

	// the attempt continues in the background
	assert.Equal(t, StatusStarting, h.manager.Status("web").Status)
	again := h.manager.Launch(context.Background(), "web")
	assert.True(t, errors.IsAlreadyStartingError(again.Err))

	assert.Equal(t, ResultSuccess, h.manager.Stop(context.Background(), "web").Status)
}

func TestManager_RetryAfterHealthTimeout(t *testing.T) {
	url, _ := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 1))

	first := h.manager.Launch(context.Background(), "web")
	require.True(t, errors.IsHealthCheckTimeoutError(first.Err))
	require.True(t, h.tracker.Alive("web"))

	// live but unhealthy processes keep the failure visible
	require.NoError(t, h.manager.Refresh(context.Background()))
	status := h.manager.Status("web")
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, "health check timeout after 1s", status.Message)

	retry := h.manager.Launch(context.Background(), "web")
	assert.False(t, errors.IsAlreadyStartingError(retry.Err))
	assert.True(t, errors.IsHealthCheckTimeoutError(retry.Err))
	assert.Equal(t, int32(2), h.spawner.count.Load())
}

func TestManager_RefreshAfterStopDuringStarting(t *testing.T) {
	url, healthy := healthEndpoint(t)
	h := newHarness(t, appDef(t, "web", "sleep 30", url, 30))

	done := make(chan Result, 1)
	go func() { done <- h.manager.Launch(context.Background(), "web") }()
	require.Eventually(t, func() bool { return h.tracker.Alive("web") }, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, ResultSuccess, h.manager.Stop(context.Background(), "web").Status)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("launch did not observe the stop")
	}

	// the app is now served by something the launcher did not start
	healthy.Store(true)
	require.NoError(t, h.manager.Refresh(context.Background()))
	status := h.manager.Status("web")
	assert.Equal(t, StatusRunning, status.Status)
	assert.Equal(t, "running", status.Message)

	again := h.manager.Launch(context.Background(), "web")
	assert.Equal(t, "already running", again.Message)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	h := newHarness(t, appDef(t, "web", "sleep 30", "", 0))

	for i := 0; i < 2; i++ {
		result := h.manager.Stop(context.Background(), "web")
		assert.Equal(t, ResultSuccess, result.Status)
		assert.Equal(t, "Application stopped", result.Message)
		assert.Equal(t, StatusStopped, h.manager.Status("web").Status)
	}

	unknown := h.manager.Stop(context.Background(), "ghost")
	assert.True(t, errors.IsNotFoundError(unknown.Err))
}

func TestManager_LaunchWithoutChecksUsesLiveness(t *testing.T) {
	h := newHarness(t, appDef(t, "worker", "sleep 30", "", 0))

	result := h.manager.Launch(context.Background(), "worker")
	require.Equal(t, ResultSuccess, result.Status, result.Message)
	assert.Equal(t, "started successfully", result.Message)

	again := h.manager.Launch(context.Background(), "worker")
	assert.Equal(t, "already running", again.Message)
	assert.Equal(t, int32(1), h.spawner.count.Load())
}

func TestManager_Refresh(t *testing.T) {
	url, healthy := healthEndpoint(t)
	h := newHarness(t,
		appDef(t, "web", "sleep 30", url, 10),
		appDef(t, "api", "sleep 30", "", 0),
	)

	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusStopped, h.manager.Status("web").Status)
	assert.Equal(t, StatusStopped, h.manager.Status("api").Status)

	healthy.Store(true)
	views, err := h.manager.List(context.Background())
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "web", views[0].ID)
	assert.Equal(t, StatusRunning, views[0].Status)
	assert.Equal(t, "running", views[0].Message)
	assert.Equal(t, []string{"http://localhost:5173"}, views[0].OpenURLs)
	assert.Equal(t, []int{}, views[1].Ports)
	assert.Equal(t, StatusStopped, views[1].Status)
	assert.Equal(t, map[string]int{"Stopped": 1, "Starting": 0, "Running": 1, "Error": 0}, h.recorder.counts)
}

func TestManager_RefreshReapsExitedProcesses(t *testing.T) {
	h := newHarness(t, appDef(t, "job", "sleep 30", "", 0))

	require.Equal(t, ResultSuccess, h.manager.Launch(context.Background(), "job").Status)
	pids, ok := h.tracker.Lookup("job")
	require.True(t, ok)
	require.NotEmpty(t, pids)

	for _, pid := range pids {
		proc, err := os.FindProcess(pid)
		require.NoError(t, err)
		require.NoError(t, proc.Kill())
	}
	require.Eventually(t, func() bool { return !h.tracker.Alive("job") }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, h.manager.Refresh(context.Background()))
	assert.Equal(t, StatusStopped, h.manager.Status("job").Status)
	_, tracked := h.tracker.Lookup("job")
	assert.False(t, tracked)
}

func TestManager_AddUpdateDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	def := appDef(t, "web", "sleep 30", "", 0)

	require.NoError(t, h.manager.Add(ctx, def))
	err := h.manager.Add(ctx, def)
	assert.True(t, errors.IsConflictError(err))

	newWorkspace := t.TempDir()
	require.NoError(t, h.manager.UpdateWorkspace(ctx, "web", newWorkspace))
	stored, err := h.repo.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, newWorkspace, stored.Workspace)
	assert.Equal(t, def.Start, stored.Start)

	assert.True(t, errors.IsNotFoundError(h.manager.UpdateWorkspace(ctx, "ghost", newWorkspace)))

	require.Equal(t, ResultSuccess, h.manager.Launch(ctx, "web").Status)
	require.NoError(t, h.manager.Delete(ctx, "web"))

	assert.False(t, h.tracker.Alive("web"))
	_, err = h.repo.Get(ctx, "web")
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, StatusStopped, h.manager.Status("web").Status)

	assert.True(t, errors.IsNotFoundError(h.manager.Delete(ctx, "web")))
}

func TestStartBudget(t *testing.T) {
	assert.Equal(t, time.Minute, startBudget(nil, time.Minute))
	assert.Equal(t, 3*time.Second, startBudget([]monitoring.Check{
		{URL: "http://a", Timeout: time.Second},
		{URL: "http://b", Timeout: 2 * time.Second},
	}, time.Minute))
}

func TestHealthChecks_CapsTimeouts(t *testing.T) {
	def := appconfig.AppDefinition{Health: []appconfig.HealthCheck{
		{URL: "http://a", TimeoutSec: 120},
		{URL: "http://b", TimeoutSec: 1},
	}}

	capped := healthChecks(def, 3*time.Second)
	assert.Equal(t, 3*time.Second, capped[0].Timeout)
	assert.Equal(t, time.Second, capped[1].Timeout)

	full := healthChecks(def, 0)
	assert.Equal(t, 120*time.Second, full[0].Timeout)
}

type memoryRepository struct {
	defs map[string]appconfig.AppDefinition
}

func (r *memoryRepository) List(ctx context.Context) ([]appconfig.AppDefinition, error) {
	defs := make([]appconfig.AppDefinition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *memoryRepository) Get(ctx context.Context, id string) (appconfig.AppDefinition, error) {
	def, ok := r.defs[id]
	if !ok {
		return appconfig.AppDefinition{}, errors.NewNotFoundError("application not found", nil)
	}
	return def, nil
}

func (r *memoryRepository) Create(ctx context.Context, def appconfig.AppDefinition) error {
	r.defs[def.ID] = def
	return nil
}

func (r *memoryRepository) Upsert(ctx context.Context, def appconfig.AppDefinition) error {
	r.defs[def.ID] = def
	return nil
}

func (r *memoryRepository) Delete(ctx context.Context, id string) error {
	delete(r.defs, id)
	return nil
}

// scriptedTracker tracks nothing and answers Terminate with a fixed outcome
type scriptedTracker struct {
	result processtracker.TerminationResult
	err    error
}

func (s *scriptedTracker) Register(appID string, proc *os.Process) {}

func (s *scriptedTracker) Lookup(appID string) ([]int, bool) { return nil, false }

func (s *scriptedTracker) Alive(appID string) bool { return false }

func (s *scriptedTracker) ExitStatus(appID string) (bool, int) { return false, 0 }

func (s *scriptedTracker) Terminate(ctx context.Context, appID string) (processtracker.TerminationResult, error) {
	return s.result, s.err
}

func newScriptedManager(t *testing.T, tracker ProcessTracker, defs ...appconfig.AppDefinition) *Manager {
	t.Helper()
	repo := &memoryRepository{defs: map[string]appconfig.AppDefinition{}}
	for _, def := range defs {
		repo.defs[def.ID] = def
	}

	logs, err := logcollection.NewLogSink(config.LogSinkConfig{MaxLines: 100}, nil, logging.Nop())
	require.NoError(t, err)

	manager := NewManager(Dependencies{
		Repository: repo,
		Tracker:    tracker,
		Spawner:    process.NewStdSpawner(process.SpawnOptions{}, logging.Nop()),
		Prober:     monitoring.NewHTTPProber(monitoring.HTTPProberOptions{}, logging.Nop()),
		Logs:       logs,
	}, Options{
		PollInterval: 20 * time.Millisecond,
		StartCeiling: time.Second,
		Host:         shell.HostLinux,
	}, logging.Nop())

	t.Cleanup(func() {
		manager.Shutdown(context.Background())
		logs.Close()
	})
	return manager
}

func TestManager_StopPartialFailure(t *testing.T) {
	tracker := &scriptedTracker{
		result: processtracker.PartialFailure,
		err:    errors.NewTerminationPartialFailureError("pids [4242] still running", nil),
	}
	manager := newScriptedManager(t, tracker, appDef(t, "web", "sleep 30", "", 0))

	result := manager.Stop(context.Background(), "web")

	assert.Equal(t, ResultError, result.Status)
	assert.Equal(t, "termination incomplete: pids [4242] still running", result.Message)
	assert.True(t, errors.IsTerminationPartialFailureError(result.Err))

	status := manager.Status("web")
	assert.Equal(t, StatusError, status.Status)
	assert.Equal(t, "termination incomplete: pids [4242] still running", status.Message)

	logs, err := manager.Logs("web", 10)
	require.NoError(t, err)
	assert.Contains(t, logs, "ERROR: termination incomplete")
}

func TestManager_UnknownShellIsSpawnFailure(t *testing.T) {
	def := appDef(t, "web", "echo hi", "", 0)
	def.Start[0].Shell = shell.Kind("fish")
	manager := newScriptedManager(t, &scriptedTracker{result: processtracker.NotFound}, def)

	result := manager.Launch(context.Background(), "web")

	assert.Equal(t, ResultError, result.Status)
	assert.True(t, errors.IsSpawnFailedError(result.Err))
	assert.Equal(t, "spawn failed: unknown shell kind 'fish'", result.Message)
	assert.Equal(t, StatusError, manager.Status("web").Status)
}
