package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics: scheduler, adapter, and node
// instrumentation shared across every run of the engine.
type Metrics struct {
	// Scheduler metrics
	QueueDepth       prometheus.Gauge
	EventsPerCycle   prometheus.Histogram
	NodeFireTotal    *prometheus.CounterVec
	AlarmsScheduled  prometheus.Counter
	AlarmsFired      prometheus.Counter
	AlarmsCanceled   prometheus.Counter
	EngineNowSeconds prometheus.Gauge

	// Adapter metrics
	AdapterLagSeconds  *prometheus.GaugeVec
	TicksDropped       *prometheus.CounterVec
	TicksClamped       *prometheus.CounterVec
	PushLockWaitSecond prometheus.Histogram
	AdapterReconnects  *prometheus.CounterVec
	AdapterConnected   *prometheus.GaugeVec

	// Engine/health metrics
	NodeHealthStatus *prometheus.GaugeVec
	ErrorsTotal      *prometheus.CounterVec

	// Edge buffer metrics
	EdgeOccupancy *prometheus.GaugeVec

	// Dynamic sub-graph metrics
	SubGraphsActive      *prometheus.GaugeVec
	SubGraphInstantiated *prometheus.CounterVec
	SubGraphTornDown     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance holding all engine metrics; it
// registers nothing. NewMetricsRegistry (see registry.go) creates one and
// registers it for exposure.
func NewMetrics() *Metrics {
	return &Metrics{
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "scheduler",
				Name:      "queue_depth",
				Help:      "Number of pending scheduled events in the priority queue",
			},
		),

		EventsPerCycle: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "csp",
				Subsystem: "scheduler",
				Name:      "events_per_cycle",
				Help:      "Number of events popped from the queue per engine cycle",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),

		NodeFireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "node",
				Name:      "fire_total",
				Help:      "Total number of times a node has fired, by node kind",
			},
			[]string{"kind"},
		),

		AlarmsScheduled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "alarm",
				Name:      "scheduled_total",
				Help:      "Total number of alarms scheduled",
			},
		),

		AlarmsFired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "alarm",
				Name:      "fired_total",
				Help:      "Total number of alarms that fired",
			},
		),

		AlarmsCanceled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "alarm",
				Name:      "canceled_total",
				Help:      "Total number of alarms canceled before firing",
			},
		),

		EngineNowSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "engine",
				Name:      "now_seconds",
				Help:      "Current engine time, in seconds since the epoch of the run",
			},
		),

		AdapterLagSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "lag_seconds",
				Help:      "engine_now minus the adapter's last pushed tick time",
			},
			[]string{"adapter"},
		),

		TicksDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "ticks_dropped_total",
				Help:      "Total number of late ticks dropped by an adapter",
			},
			[]string{"adapter"},
		),

		TicksClamped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "ticks_clamped_total",
				Help:      "Total number of late ticks clamped to engine_now by an adapter",
			},
			[]string{"adapter"},
		),

		PushLockWaitSecond: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "push_lock_wait_seconds",
				Help:      "Time a push adapter goroutine waited to acquire the engine's push lock",
				Buckets:   prometheus.DefBuckets,
			},
		),

		AdapterReconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "reconnects_total",
				Help:      "Total number of adapter reconnection attempts",
			},
			[]string{"adapter"},
		),

		AdapterConnected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "adapter",
				Name:      "connected",
				Help:      "Adapter connection status (0=disconnected, 1=connected)",
			},
			[]string{"adapter"},
		),

		NodeHealthStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "node",
				Name:      "health_status",
				Help:      "Node health status (0=unhealthy, 1=healthy)",
			},
			[]string{"node"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors by class",
			},
			[]string{"class"},
		),

		EdgeOccupancy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "edge",
				Name:      "occupancy_ratio",
				Help:      "Fraction of an edge's ring buffer capacity currently filled",
			},
			[]string{"edge"},
		),

		SubGraphsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "csp",
				Subsystem: "dynamic",
				Name:      "subgraphs_active",
				Help:      "Number of currently instantiated sub-graph instances, by instantiator name",
			},
			[]string{"instantiator"},
		),

		SubGraphInstantiated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "dynamic",
				Name:      "subgraphs_instantiated_total",
				Help:      "Total number of sub-graph instances built, by instantiator name",
			},
			[]string{"instantiator"},
		),

		SubGraphTornDown: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "csp",
				Subsystem: "dynamic",
				Name:      "subgraphs_torn_down_total",
				Help:      "Total number of sub-graph instances torn down, by instantiator name",
			},
			[]string{"instantiator"},
		),
	}
}

// RecordQueueDepth sets the scheduler's pending event count.
func (m *Metrics) RecordQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordEventsPerCycle records how many events were popped in one engine cycle.
func (m *Metrics) RecordEventsPerCycle(n int) {
	m.EventsPerCycle.Observe(float64(n))
}

// RecordNodeFire increments the fire counter for a node kind.
func (m *Metrics) RecordNodeFire(kind string) {
	m.NodeFireTotal.WithLabelValues(kind).Inc()
}

// RecordAlarmScheduled increments the alarms-scheduled counter.
func (m *Metrics) RecordAlarmScheduled() {
	m.AlarmsScheduled.Inc()
}

// RecordAlarmFired increments the alarms-fired counter.
func (m *Metrics) RecordAlarmFired() {
	m.AlarmsFired.Inc()
}

// RecordAlarmCanceled increments the alarms-canceled counter.
func (m *Metrics) RecordAlarmCanceled() {
	m.AlarmsCanceled.Inc()
}

// RecordEngineNow sets the engine-time gauge, in seconds since run start.
func (m *Metrics) RecordEngineNow(now time.Duration) {
	m.EngineNowSeconds.Set(now.Seconds())
}

// RecordAdapterLag sets the lag gauge for a named adapter.
func (m *Metrics) RecordAdapterLag(adapter string, lag time.Duration) {
	m.AdapterLagSeconds.WithLabelValues(adapter).Set(lag.Seconds())
}

// RecordTickDropped increments the dropped-tick counter for a named adapter.
func (m *Metrics) RecordTickDropped(adapter string) {
	m.TicksDropped.WithLabelValues(adapter).Inc()
}

// RecordTickClamped increments the clamped-tick counter for a named adapter.
func (m *Metrics) RecordTickClamped(adapter string) {
	m.TicksClamped.WithLabelValues(adapter).Inc()
}

// RecordPushLockWait records how long a push adapter goroutine waited for the
// engine's push lock.
func (m *Metrics) RecordPushLockWait(wait time.Duration) {
	m.PushLockWaitSecond.Observe(wait.Seconds())
}

// RecordAdapterReconnect increments the reconnect counter for a named adapter.
func (m *Metrics) RecordAdapterReconnect(adapter string) {
	m.AdapterReconnects.WithLabelValues(adapter).Inc()
}

// RecordAdapterConnected updates the connection-status gauge for a named adapter.
func (m *Metrics) RecordAdapterConnected(adapter string, connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	m.AdapterConnected.WithLabelValues(adapter).Set(value)
}

// RecordNodeHealth updates the health-status gauge for a named node.
func (m *Metrics) RecordNodeHealth(node string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.NodeHealthStatus.WithLabelValues(node).Set(value)
}

// RecordError increments the error counter for an error class.
func (m *Metrics) RecordError(class string) {
	m.ErrorsTotal.WithLabelValues(class).Inc()
}

// RecordEdgeOccupancy sets the occupancy-ratio gauge for a named edge.
func (m *Metrics) RecordEdgeOccupancy(edge string, size, capacity int) {
	ratio := 0.0
	if capacity > 0 {
		ratio = float64(size) / float64(capacity)
	}
	m.EdgeOccupancy.WithLabelValues(edge).Set(ratio)
}

// RecordSubGraphInstantiated increments the instantiation counter and the
// active-instance gauge for a named instantiator.
func (m *Metrics) RecordSubGraphInstantiated(instantiator string) {
	m.SubGraphInstantiated.WithLabelValues(instantiator).Inc()
	m.SubGraphsActive.WithLabelValues(instantiator).Inc()
}

// RecordSubGraphTornDown increments the teardown counter and decrements the
// active-instance gauge for a named instantiator.
func (m *Metrics) RecordSubGraphTornDown(instantiator string) {
	m.SubGraphTornDown.WithLabelValues(instantiator).Inc()
	m.SubGraphsActive.WithLabelValues(instantiator).Dec()
}
