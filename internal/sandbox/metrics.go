package sandbox

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the execution engine.
// All metrics use the scriptbox_sandbox_ namespace.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	PrecheckRejections *prometheus.CounterVec
	ActiveWorkers      prometheus.Gauge
	WorkerKills        *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics on the given registry.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "sandbox",
			Name:      "runs_total",
			Help:      "Total sandboxed runs by terminal outcome.",
		}, []string{"outcome"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scriptbox",
			Subsystem: "sandbox",
			Name:      "run_duration_seconds",
			Help:      "End-to-end run duration in seconds, spawn to terminal envelope.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),

		PrecheckRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "sandbox",
			Name:      "precheck_rejections_total",
			Help:      "Static pre-check rejections by matched token.",
		}, []string{"token"}),

		ActiveWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptbox",
			Subsystem: "sandbox",
			Name:      "active_workers",
			Help:      "Number of worker processes currently alive.",
		}),

		WorkerKills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "sandbox",
			Name:      "worker_kills_total",
			Help:      "Forced worker terminations by reason (timeout, memory).",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.PrecheckRejections,
		m.ActiveWorkers,
		m.WorkerKills,
	)
	return m
}

// observeRun records a terminal outcome. Nil-safe.
func (m *Metrics) observeRun(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.WithLabelValues(outcome).Observe(seconds)
}

// observePrecheck records a static pre-check rejection. Nil-safe.
func (m *Metrics) observePrecheck(token string) {
	if m == nil {
		return
	}
	m.PrecheckRejections.WithLabelValues(token).Inc()
}

// observeKill records a forced worker termination. Nil-safe.
func (m *Metrics) observeKill(reason string) {
	if m == nil {
		return
	}
	m.WorkerKills.WithLabelValues(reason).Inc()
}

// workerStarted / workerDone track the live worker gauge. Nil-safe.
func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

func (m *Metrics) workerDone() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}
