package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. All recording helpers are nil-safe
// so components can run without a collector wired in.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Kernel lifecycle metrics
	KernelsActive prometheus.Gauge
	KernelsTotal  prometheus.Counter
	KernelErrors  *prometheus.CounterVec

	// Execution metrics
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram

	// Event metrics
	EventsTotal *prometheus.CounterVec

	// Artifact metrics
	ArtifactsTotal *prometheus.CounterVec
	ArtifactBytes  prometheus.Counter

	// Operation metrics (history writes, artifact promotion, probes)
	OpsTotal    *prometheus.CounterVec
	OpsDuration *prometheus.HistogramVec

	// Autocomplete deadline metrics
	CompleteTimeouts prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Interpreter probe metrics
	ProbesTotal *prometheus.CounterVec

	// Terminal metrics
	TerminalsActive prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON status API
type MetricsSnapshot struct {
	TotalRequests     int64
	TotalErrors       int64
	ActiveKernels     int64
	ActiveConnections int64
	TotalDuration     float64 // sum of all request durations
	RequestCount      int64   // count for averaging
}

// NewMetrics creates a new metrics collector. Call it once per process;
// promauto registers into the default registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		stop:      make(chan struct{}),

		// HTTP metrics
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rodeo_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rodeo_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rodeo_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Kernel lifecycle metrics
		KernelsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rodeo_kernels_active",
				Help: "Number of live kernel sessions",
			},
		),
		KernelsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rodeo_kernels_total",
				Help: "Total number of kernel sessions created",
			},
		),
		KernelErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_kernel_errors_total",
				Help: "Total number of kernel failures",
			},
			[]string{"stage"},
		),

		// Execution metrics
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_executions_total",
				Help: "Total number of code executions",
			},
			[]string{"status"},
		),
		ExecutionDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rodeo_execution_duration_seconds",
				Help:    "Code execution duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
		),

		// Event metrics
		EventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_events_total",
				Help: "Total number of kernel events forwarded",
			},
			[]string{"kind"},
		),

		// Artifact metrics
		ArtifactsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_artifacts_total",
				Help: "Total number of artifacts extracted from events",
			},
			[]string{"field"},
		),
		ArtifactBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rodeo_artifact_bytes_total",
				Help: "Total bytes written to artifact files",
			},
		),

		// Operation metrics
		OpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_ops_total",
				Help: "Total number of internal operations",
			},
			[]string{"component", "op", "status"},
		),
		OpsDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rodeo_op_duration_seconds",
				Help:    "Internal operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"component", "op"},
		),

		// Autocomplete deadline metrics
		CompleteTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "rodeo_complete_timeouts_total",
				Help: "Total number of autocomplete requests abandoned on deadline",
			},
		),

		// WebSocket metrics
		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rodeo_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// Interpreter probe metrics
		ProbesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rodeo_probes_total",
				Help: "Total number of interpreter probes",
			},
			[]string{"status"},
		),

		// Terminal metrics
		TerminalsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rodeo_terminals_active",
				Help: "Number of active PTY terminals",
			},
		),

		// System metrics
		Uptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rodeo_uptime_seconds",
				Help: "Backend uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// Close stops the uptime updater.
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		case <-m.stop:
			return
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// KernelStarted records a kernel session reaching ready
func (m *Metrics) KernelStarted() {
	if m == nil {
		return
	}
	m.KernelsTotal.Inc()
	m.KernelsActive.Inc()
	m.mu.Lock()
	m.snapshot.ActiveKernels++
	m.mu.Unlock()
}

// KernelStopped records a kernel session leaving the table
func (m *Metrics) KernelStopped() {
	if m == nil {
		return
	}
	m.KernelsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveKernels--
	m.mu.Unlock()
}

// KernelFailed records a kernel failure by stage (launch, protocol, exit)
func (m *Metrics) KernelFailed(stage string) {
	if m == nil {
		return
	}
	m.KernelErrors.WithLabelValues(stage).Inc()
}

// RecordExecution records one completed execution
func (m *Metrics) RecordExecution(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(duration.Seconds())
}

// RecordEvent records one event forwarded to subscribers
func (m *Metrics) RecordEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// RecordArtifact records one artifact extracted from an event field
func (m *Metrics) RecordArtifact(field string, size int64) {
	if m == nil {
		return
	}
	m.ArtifactsTotal.WithLabelValues(field).Inc()
	m.ArtifactBytes.Add(float64(size))
}

// RecordOp records an internal operation
func (m *Metrics) RecordOp(component, op, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OpsTotal.WithLabelValues(component, op, status).Inc()
	m.OpsDuration.WithLabelValues(component, op).Observe(duration.Seconds())
}

// IncCompleteTimeouts records an autocomplete request abandoned on deadline
func (m *Metrics) IncCompleteTimeouts() {
	if m == nil {
		return
	}
	m.CompleteTimeouts.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// RecordProbe records an interpreter probe outcome
func (m *Metrics) RecordProbe(status string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(status).Inc()
}

// TerminalOpened increments active terminals
func (m *Metrics) TerminalOpened() {
	if m == nil {
		return
	}
	m.TerminalsActive.Inc()
}

// TerminalClosed decrements active terminals
func (m *Metrics) TerminalClosed() {
	if m == nil {
		return
	}
	m.TerminalsActive.Dec()
}
