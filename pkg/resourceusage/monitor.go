package resourceusage

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/appconfig"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/processtracker"

	"github.com/shirou/gopsutil/v3/process"
)

const DefaultInterval = 15 * time.Second

// Usage is the combined footprint of an app's process tree
type Usage struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryRSS  int64   `json:"memory_rss"`
	CPUPercent float64 `json:"cpu_percent"` // averaged over each process lifetime
	Processes  int     `json:"processes"`
}

// AppSource lists the known apps
type AppSource interface {
	List(ctx context.Context) ([]appconfig.AppDefinition, error)
}

// PIDSource returns the live root PIDs of an app
type PIDSource interface {
	Lookup(appID string) ([]int, bool)
}

// Observer receives one sample per app and pass; ok is false when the app has no live processes
type Observer func(appID string, usage Usage, ok bool)

type Options struct {
	Interval time.Duration
}

// Monitor periodically samples memory and CPU of every tracked app
type Monitor struct {
	apps     AppSource
	pids     PIDSource
	observer Observer
	options  Options
	logger   logging.Logger

	mutex     sync.RWMutex
	isRunning bool
	latest    map[string]Usage
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewMonitor(apps AppSource, pids PIDSource, observer Observer, options Options, logger logging.Logger) *Monitor {
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}
	return &Monitor{
		apps:     apps,
		pids:     pids,
		observer: observer,
		options:  options,
		logger:   logger,
		latest:   make(map[string]Usage),
	}
}

// Start begins periodic sampling
func (m *Monitor) Start(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.isRunning {
		return errors.NewValidationError("resource monitor is already running", nil)
	}

	ctx, m.cancel = context.WithCancel(ctx)
	m.isRunning = true

	m.logger.Infof("Starting resource monitoring, interval: %v", m.options.Interval)

	m.wg.Add(1)
	go m.monitorLoop(ctx)

	return nil
}

// Stop stops sampling and waits for the loop to exit
func (m *Monitor) Stop() {
	m.mutex.Lock()
	if !m.isRunning {
		m.mutex.Unlock()
		return
	}
	m.cancel()
	m.isRunning = false
	m.mutex.Unlock()

	m.wg.Wait()

	m.logger.Infof("Resource monitoring stopped")
}

// Usage returns the latest sample of appID
func (m *Monitor) Usage(appID string) (Usage, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	usage, ok := m.latest[appID]
	return usage, ok
}

func (m *Monitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debugf("Resource monitoring loop stopped")
			return

		case <-ticker.C:
			m.Collect(ctx)
		}
	}
}

// Collect takes one sample of every app
func (m *Monitor) Collect(ctx context.Context) {
	defs, err := m.apps.List(ctx)
	if err != nil {
		m.logger.Warnf("Failed to list apps for resource monitoring: %v", err)
		return
	}

	for _, def := range defs {
		usage, ok := m.collectApp(ctx, def.ID)

		m.mutex.Lock()
		if ok {
			m.latest[def.ID] = usage
		} else {
			delete(m.latest, def.ID)
		}
		m.mutex.Unlock()

		if m.observer != nil {
			m.observer(def.ID, usage, ok)
		}
	}
}

func (m *Monitor) collectApp(ctx context.Context, appID string) (Usage, bool) {
	roots, _ := m.pids.Lookup(appID)
	if len(roots) == 0 {
		return Usage{}, false
	}

	pids := append([]int(nil), roots...)
	children, err := processtracker.Descendants(ctx, roots)
	if err != nil {
		m.logger.Debugf("Failed to enumerate descendants, app: %s, error: %v", appID, err)
	}
	pids = append(pids, children...)

	usage := Usage{Timestamp: time.Now()}
	for _, pid := range pids {
		rss, cpu, err := processUsage(ctx, pid)
		if err != nil {
			// raced with exit
			continue
		}
		usage.MemoryRSS += rss
		usage.CPUPercent += cpu
		usage.Processes++
	}
	if usage.Processes == 0 {
		return Usage{}, false
	}

	m.logger.Debugf("Resource usage, app: %s, memory RSS: %dMB, CPU: %.1f%%, processes: %d",
		appID, usage.MemoryRSS/(1024*1024), usage.CPUPercent, usage.Processes)
	return usage, true
}

func processUsage(ctx context.Context, pid int) (int64, float64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, 0, err
	}
	memory, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		cpu = 0
	}
	return int64(memory.RSS), cpu, nil
}
