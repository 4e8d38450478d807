package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "launcher"

// Metrics holds the launcher's Prometheus collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Lifecycle metrics
	LaunchesTotal *prometheus.CounterVec
	StopsTotal    *prometheus.CounterVec
	AppsByStatus  *prometheus.GaugeVec

	// Probe metrics
	ProbesTotal   *prometheus.CounterVec
	ProbeDuration *prometheus.HistogramVec

	LogLinesTotal *prometheus.CounterVec

	// Resource usage of app process trees
	AppMemoryBytes *prometheus.GaugeVec
	AppCPUPercent  *prometheus.GaugeVec
	AppProcesses   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them together with the Go and process collectors
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 120},
			},
			[]string{"method", "path"},
		),

		LaunchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_total",
				Help:      "Launch requests by app and outcome",
			},
			[]string{"app_id", "outcome"},
		),
		StopsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stops_total",
				Help:      "Stop requests by app and outcome",
			},
			[]string{"app_id", "outcome"},
		),
		AppsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "apps",
				Help:      "Number of apps per lifecycle status",
			},
			[]string{"status"},
		),

		ProbesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_probes_total",
				Help:      "HTTP health checks by result",
			},
			[]string{"result"},
		),
		ProbeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_probe_duration_seconds",
				Help:      "HTTP health check duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		LogLinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_lines_total",
				Help:      "Lines captured from app output",
			},
			[]string{"app_id"},
		),

		AppMemoryBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_memory_rss_bytes",
				Help:      "Resident memory of an app process tree",
			},
			[]string{"app_id"},
		),
		AppCPUPercent: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_cpu_percent",
				Help:      "CPU usage of an app process tree",
			},
			[]string{"app_id"},
		),
		AppProcesses: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "app_processes",
				Help:      "Live processes in an app process tree",
			},
			[]string{"app_id"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *Metrics) RecordLaunch(appID, outcome string) {
	m.LaunchesTotal.WithLabelValues(appID, outcome).Inc()
}

func (m *Metrics) RecordStop(appID, outcome string) {
	m.StopsTotal.WithLabelValues(appID, outcome).Inc()
}

// ObserveProbe matches the prober's observer signature
func (m *Metrics) ObserveProbe(url string, healthy bool, elapsed time.Duration) {
	result := "unhealthy"
	if healthy {
		result = "healthy"
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
	m.ProbeDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveLogLines matches the log sink's line observer signature
func (m *Metrics) ObserveLogLines(appID string, lines int) {
	m.LogLinesTotal.WithLabelValues(appID).Add(float64(lines))
}

// SetAppsByStatus replaces the per-status gauge values
func (m *Metrics) SetAppsByStatus(counts map[string]int) {
	m.AppsByStatus.Reset()
	for status, count := range counts {
		m.AppsByStatus.WithLabelValues(status).Set(float64(count))
	}
}

// ObserveUsage sets the resource gauges of appID, or drops them when nothing is running
func (m *Metrics) ObserveUsage(appID string, memoryRSS int64, cpuPercent float64, processes int, running bool) {
	if !running {
		m.AppMemoryBytes.DeleteLabelValues(appID)
		m.AppCPUPercent.DeleteLabelValues(appID)
		m.AppProcesses.DeleteLabelValues(appID)
		return
	}
	m.AppMemoryBytes.WithLabelValues(appID).Set(float64(memoryRSS))
	m.AppCPUPercent.WithLabelValues(appID).Set(cpuPercent)
	m.AppProcesses.WithLabelValues(appID).Set(float64(processes))
}
