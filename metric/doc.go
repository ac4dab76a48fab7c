// Package metric provides Prometheus-based metrics collection and an HTTP
// server for CSP engine observability.
//
// The package offers a centralized metrics registry managing both core engine
// metrics (scheduler queue depth, node fire counts, adapter lag) and
// node-kind-specific metrics registered by individual node implementations. It
// includes an HTTP server exposing metrics in Prometheus format for monitoring
// system integration.
//
// # Architecture
//
// The package follows a three-layer design:
//
//  1. Core Metrics: Engine-level metrics automatically registered (Metrics type)
//  2. Node Registry: Extensible registration for node-kind-specific metrics (MetricsRegistrar interface)
//  3. HTTP Server: Metrics endpoint with health checks (Server type)
//
// This architecture separates infrastructure concerns (core metrics) from
// node-kind concerns (domain-specific counters a node kind wants to expose)
// while providing a unified metrics endpoint for monitoring systems.
//
// # Basic Usage
//
// Setting up metrics collection and HTTP server:
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	go func() {
//	    if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
//	        log.Printf("Metrics server error: %v", err)
//	    }
//	}()
//
//	// Record core engine metrics
//	coreMetrics := registry.CoreMetrics()
//	coreMetrics.RecordQueueDepth(12)
//	coreMetrics.RecordNodeFire("adder")
//	coreMetrics.RecordAdapterLag("nats-push", 5*time.Millisecond)
//
// The metrics server will expose Prometheus-formatted metrics at http://localhost:9090/metrics
// and a health check at http://localhost:9090/health.
//
// # Core Metrics
//
// The package automatically registers core engine metrics tracking:
//
//   - Scheduler: queue_depth, events_per_cycle, engine now_seconds
//   - Nodes: fire_total (by kind), health_status (by node)
//   - Alarms: scheduled_total, fired_total, canceled_total
//   - Adapters: lag_seconds, ticks_dropped_total, ticks_clamped_total,
//     push_lock_wait_seconds, reconnects_total, connected
//   - Error tracking: errors_total (by class)
//
// Access core metrics through the registry:
//
//	coreMetrics := registry.CoreMetrics()
//
//	// Scheduler tracking
//	coreMetrics.RecordQueueDepth(8)
//	coreMetrics.RecordEventsPerCycle(3)
//
//	// Node firing and health
//	coreMetrics.RecordNodeFire("windowing-average")
//	coreMetrics.RecordNodeHealth("windowing-average-1", true)
//
//	// Adapter connectivity and lag
//	coreMetrics.RecordAdapterConnected("nats-push-pull", true)
//	coreMetrics.RecordAdapterLag("nats-push-pull", 50*time.Millisecond)
//
//	// Error tracking
//	coreMetrics.RecordError("transient")
//
// # Node-Specific Metrics
//
// Node kinds can register custom metrics through the registry:
//
//	// Register a counter
//	tickCounter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Name: "windowing_samples_total",
//	    Help: "Total number of samples folded into the window",
//	})
//	err := registry.RegisterCounter("windowing-average", "windowing_samples_total", tickCounter)
//
//	// Register a gauge
//	windowFill := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "windowing_fill_ratio",
//	    Help: "Current window fill ratio",
//	})
//	err = registry.RegisterGauge("windowing-average", "windowing_fill_ratio", windowFill)
//
//	// Register a histogram
//	fireLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
//	    Name:    "fire_latency_seconds",
//	    Help:    "Time spent inside on_fire",
//	    Buckets: prometheus.DefBuckets,
//	})
//	err = registry.RegisterHistogram("windowing-average", "fire_latency_seconds", fireLatency)
//
// # Vector Metrics with Labels
//
// Register metrics with labels for multi-dimensional data:
//
//	// Counter with labels
//	ticksByEdgeVec := prometheus.NewCounterVec(
//	    prometheus.CounterOpts{
//	        Name: "ticks_total",
//	        Help: "Total ticks received by edge",
//	    },
//	    []string{"edge"},
//	)
//	err := registry.RegisterCounterVec("adder", "ticks_total", ticksByEdgeVec)
//
//	// Use the metric with specific label values
//	ticksByEdgeVec.WithLabelValues("lhs").Inc()
//	ticksByEdgeVec.WithLabelValues("rhs").Inc()
//
// # HTTP Server
//
// The metrics server provides three endpoints:
//
//   - GET / - HTML page with links to metrics and health endpoints
//   - GET /metrics - Prometheus-formatted metrics (default path, configurable)
//   - GET /health - plain-text health check response
//
// Server configuration:
//
//	// Default configuration (port 9090, path /metrics)
//	server := metric.NewServer(0, "", registry)
//
//	// Custom configuration
//	server := metric.NewServer(8080, "/prometheus", registry)
//
//	// Start server (blocking)
//	if err := server.Start(); err != nil {
//	    log.Fatalf("Failed to start metrics server: %v", err)
//	}
//
//	// Stop server (in another goroutine)
//	if err := server.Stop(); err != nil {
//	    log.Printf("Error stopping server: %v", err)
//	}
//
// # Prometheus Integration
//
// The package uses the official Prometheus Go client library and exposes
// metrics in OpenMetrics format. Configure Prometheus to scrape the endpoint:
//
//	# prometheus.yml
//	scrape_configs:
//	  - job_name: 'csp-engine'
//	    static_configs:
//	      - targets: ['localhost:9090']
//	    metrics_path: '/metrics'
//	    scrape_interval: 15s
//
// All core metrics use the namespace "csp" and appropriate subsystems:
//   - csp_scheduler_queue_depth
//   - csp_node_fire_total{kind="..."}
//   - csp_adapter_lag_seconds{adapter="..."}
//
// Node-specific metrics use the metric name as provided during registration.
//
// # MetricsRegistrar Interface
//
// Node kinds implement against the MetricsRegistrar interface for dependency
// injection:
//
//	type WindowingAverage struct {
//	    metrics metric.MetricsRegistrar
//	}
//
//	func NewWindowingAverage(metrics metric.MetricsRegistrar) *WindowingAverage {
//	    counter := prometheus.NewCounter(prometheus.CounterOpts{
//	        Name: "samples_total",
//	        Help: "Total samples folded into the window",
//	    })
//	    metrics.RegisterCounter("windowing-average", "samples_total", counter)
//
//	    return &WindowingAverage{metrics: metrics}
//	}
//
// This enables testing with mock registrars and provides loose coupling
// between the engine's build step and a node kind's implementation.
//
// # Thread Safety
//
// All registry operations are thread-safe:
//   - Registration methods use mutex protection
//   - Metric recording is lock-free (Prometheus guarantee)
//   - CoreMetrics() returns a thread-safe shared instance
//   - PrometheusRegistry() is safe for concurrent access
//
// # Error Handling
//
// Registration methods return errors for:
//
//   - Duplicate registration: attempting to register same metric name twice
//   - Prometheus conflicts: internal Prometheus registration failures
//
// The Server.Start() method returns errors for:
//
//   - Server already running
//   - Nil registry
//   - HTTP server failures (port in use, permission denied)
//
// # Architecture Integration
//
// The metric package integrates with the engine's runtime packages:
//
//   - scheduler: records queue depth, events per cycle, alarm counters
//   - adapter: records lag, dropped/clamped ticks, reconnects, connected state
//   - node: records fire counts and can register its own domain metrics
//   - health: health status can be mirrored as a metric via RecordNodeHealth
//
// Data flow:
//
//	scheduler/adapter/node → Core Metrics → Prometheus Registry → HTTP Server → Prometheus
//
// # Design Decisions
//
// Centralized Registry: Chose a centralized registry over per-package
// collectors to ensure a consistent metric namespace, prevent duplication,
// and enable runtime metric discovery.
//
// Core vs Node Metrics: Separated engine-level metrics (core) from
// node-kind-specific metrics to distinguish engine health from the health of
// an individual node implementation.
//
// Prometheus Direct Integration: Used the official Prometheus client rather
// than an abstraction to leverage native features, avoid wrapper overhead,
// and ensure compatibility with the Prometheus ecosystem.
package metric
