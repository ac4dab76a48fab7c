package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockNode simulates a node kind that registers its own domain-specific metrics
// in addition to the ambient core metrics the engine always exposes.
type MockNode struct {
	name    string
	metrics struct {
		dataProcessed prometheus.Counter
		queueDepth    prometheus.Gauge
	}
}

func NewMockNode(name string) *MockNode {
	return &MockNode{name: name}
}

func (m *MockNode) Name() string {
	return m.name
}

// RegisterMetrics registers domain-specific metrics for the mock node
func (m *MockNode) RegisterMetrics(registrar MetricsRegistrar) error {
	// Register a custom counter
	m.metrics.dataProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "csp",
		Subsystem: "mock_node",
		Name:      "data_processed_total",
		Help:      "Total number of data items processed",
	})

	err := registrar.RegisterCounter(m.name, "data_processed_total", m.metrics.dataProcessed)
	if err != nil {
		return err
	}

	// Register a custom gauge
	m.metrics.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "csp",
		Subsystem: "mock_node",
		Name:      "queue_depth",
		Help:      "Current depth of processing queue",
	})

	return registrar.RegisterGauge(m.name, "queue_depth", m.metrics.queueDepth)
}

// ProcessData simulates node activity and updates metrics
func (m *MockNode) ProcessData(items int, queueDepth int) {
	m.metrics.dataProcessed.Add(float64(items))
	m.metrics.queueDepth.Set(float64(queueDepth))
}

func TestMetricsIntegration_NodeRegistration(t *testing.T) {
	// Create a new metrics registry
	registry := NewMetricsRegistry()

	// Create mock node
	mockNode := NewMockNode("test-node")

	// Register the node's metrics
	err := mockNode.RegisterMetrics(registry)
	require.NoError(t, err)

	// Simulate some node activity
	mockNode.ProcessData(10, 5)

	// Verify metrics are registered and have values
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	foundMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		foundMetrics[mf.GetName()] = true
	}

	// Verify custom metrics are registered
	assert.True(t, foundMetrics["csp_mock_node_data_processed_total"],
		"Custom data_processed metric should be registered")
	assert.True(t, foundMetrics["csp_mock_node_queue_depth"],
		"Custom queue_depth metric should be registered")
}

func TestMetricsIntegration_NoDuplicateRegistration(t *testing.T) {
	registry := NewMetricsRegistry()

	// Create two nodes with the same name (this shouldn't happen in real usage)
	node1 := NewMockNode("duplicate-node")
	node2 := NewMockNode("duplicate-node")

	// Register first node's metrics
	err := node1.RegisterMetrics(registry)
	require.NoError(t, err)

	// Try to register second node's metrics - should fail
	err = node2.RegisterMetrics(registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestMetricsIntegration_CoreAndNodeMetricsSeparate(t *testing.T) {
	registry := NewMetricsRegistry()
	coreMetrics := registry.CoreMetrics()

	mockNode := NewMockNode("separation-test")
	err := mockNode.RegisterMetrics(registry)
	require.NoError(t, err)

	// Use core metrics
	coreMetrics.RecordQueueDepth(2)
	coreMetrics.RecordNodeFire("adder")

	// Use node-specific metrics
	mockNode.ProcessData(5, 3)

	// Verify both types of metrics are present
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	foundMetrics := make(map[string]bool)
	for _, mf := range metricFamilies {
		foundMetrics[mf.GetName()] = true
	}

	// Verify core metrics
	assert.True(t, foundMetrics["csp_scheduler_queue_depth"],
		"core scheduler queue depth metric should be present")
	assert.True(t, foundMetrics["csp_node_fire_total"],
		"core node fire metric should be present")

	// Verify node-specific metrics
	assert.True(t, foundMetrics["csp_mock_node_data_processed_total"],
		"Node-specific data processed metric should be present")
	assert.True(t, foundMetrics["csp_mock_node_queue_depth"],
		"Node-specific queue depth metric should be present")

	// Verify other node kinds' metrics are NOT present (each node kind registers its own)
	assert.False(t, foundMetrics["csp_windowing_average_total"],
		"A different node kind's metric should NOT be in core registry")
}

func TestMetricsIntegration_MetricsUnregistration(t *testing.T) {
	registry := NewMetricsRegistry()

	mockNode := NewMockNode("unregister-test")

	// Register metrics
	err := mockNode.RegisterMetrics(registry)
	require.NoError(t, err)

	// Process some data to make metrics visible
	mockNode.ProcessData(1, 1)

	// Verify metrics are present
	metricFamilies, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	foundBefore := make(map[string]bool)
	for _, mf := range metricFamilies {
		foundBefore[mf.GetName()] = true
	}

	assert.True(t, foundBefore["csp_mock_node_data_processed_total"],
		"Metric should be present before unregistration")

	// Unregister one of the metrics
	success := registry.Unregister("unregister-test", "data_processed_total")
	assert.True(t, success, "Unregistration should succeed")

	// Verify metric is no longer present
	metricFamilies, err = registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	foundAfter := make(map[string]bool)
	for _, mf := range metricFamilies {
		foundAfter[mf.GetName()] = true
	}

	assert.False(t, foundAfter["csp_mock_node_data_processed_total"],
		"Metric should be absent after unregistration")
	assert.True(t, foundAfter["csp_mock_node_queue_depth"],
		"Other node metrics should remain")
}

func TestMetricsIntegration_MultipleNodesWithUniqueMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	// Create multiple nodes - they need different metric names to coexist
	node1 := NewMockNode("windowing-average")
	node2 := NewMockNode("data-processor")

	// Register first node
	err := node1.RegisterMetrics(registry)
	require.NoError(t, err)

	// The second node will fail because it tries to register the same Prometheus metric names
	// This demonstrates that our registry correctly prevents Prometheus-level conflicts
	err = node2.RegisterMetrics(registry)
	assert.Error(t, err, "Second node should fail due to Prometheus metric name conflict")
	assert.Contains(t, err.Error(), "prometheus conflict")
}

func TestMetricsIntegration_MultipleNodesSameNames(t *testing.T) {
	registry := NewMetricsRegistry()

	// Create nodes with identical names - this simulates trying to register
	// the same node twice, which should be prevented
	node1 := NewMockNode("identical-node")
	node2 := NewMockNode("identical-node")

	// Register first node
	err := node1.RegisterMetrics(registry)
	require.NoError(t, err)

	// Second node with same name should fail at our registry level
	err = node2.RegisterMetrics(registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
