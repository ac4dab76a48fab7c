// Package dynamic implements runtime sub-graph ("basket") instantiation:
// building a declared graphspec.SubGraphSpec into a fresh, ranked set of
// node.Instances via topology.BuildFragment and wiring them into a running
// scheduler.Cycle, keyed by a discriminator value per instantiator. Teardown
// unwires a previously instantiated sub-graph the same way, deferred until
// the current cycle finishes propagating.
package dynamic

import (
	"fmt"
	"log/slog"

	"github.com/c360/csp/alarm"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/topology"
	"github.com/c360/csp/value"
)

// instance is one instantiated sub-graph: the nodes BuildFragment produced
// for one (instantiator, discriminator) pair, kept in reverse-rank order
// for teardown's OnStop pass.
type instance struct {
	nodesAscending  []*node.Instance
	nodesDescending []*node.Instance
}

// teardownRequest is queued by Teardown and only applied by FlushTeardowns,
// once the cycle that requested it has finished propagating: unwiring is
// always deferred to between cycles, never applied mid-cycle.
type teardownRequest struct {
	instantiator  node.ID
	key           string
	discriminator value.Value
}

// Manager instantiates and tears down dynamic sub-graphs on behalf of a
// running scheduler.Cycle. Like Cycle and alarm.Facility, it is owned
// exclusively by the engine's single run loop and is not safe for
// concurrent use.
type Manager struct {
	cycle    *scheduler.Cycle
	alarms   *alarm.Facility
	registry *node.Registry
	metrics  *metric.Metrics
	logger   *slog.Logger

	specs     map[node.ID]graphspec.SubGraphSpec
	instances map[node.ID]map[string]*instance

	pendingTeardown []teardownRequest
}

// NewManager constructs a Manager. specs declares every sub-graph a graph
// document defines, indexed by instantiator. metrics and logger may be nil.
func NewManager(cycle *scheduler.Cycle, alarms *alarm.Facility, registry *node.Registry, specs []graphspec.SubGraphSpec, metrics *metric.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	byInstantiator := make(map[node.ID]graphspec.SubGraphSpec, len(specs))
	for _, s := range specs {
		byInstantiator[s.Instantiator] = s
	}
	return &Manager{
		cycle:     cycle,
		alarms:    alarms,
		registry:  registry,
		metrics:   metrics,
		logger:    logger,
		specs:     byInstantiator,
		instances: make(map[node.ID]map[string]*instance),
	}
}

// discriminatorKey renders a scalar discriminator as a map key. Struct,
// array, and invalid discriminators cannot key a basket instance.
func discriminatorKey(v value.Value) (string, error) {
	switch v.Kind {
	case value.KindBool:
		b, _ := v.AsBool()
		return fmt.Sprintf("bool:%v", b), nil
	case value.KindInt64:
		i, _ := v.AsInt64()
		return fmt.Sprintf("int64:%d", i), nil
	case value.KindFloat64:
		f, _ := v.AsFloat64()
		return fmt.Sprintf("float64:%v", f), nil
	case value.KindString:
		s, _ := v.AsString()
		return "string:" + s, nil
	case value.KindEnum:
		typeName, tag, _ := v.AsEnum()
		return fmt.Sprintf("enum:%s:%s", typeName, tag), nil
	case value.KindTimestamp:
		t, _ := v.AsTimestamp()
		return "timestamp:" + t.String(), nil
	case value.KindDuration:
		d, _ := v.AsDuration()
		return fmt.Sprintf("duration:%d", int64(d)), nil
	default:
		return "", errors.WrapInvalid(errors.ErrInvalidDiscriminator, "dynamic", "discriminatorKey",
			fmt.Sprintf("kind %s cannot key a sub-graph instance", v.Kind))
	}
}

// namespacePrefix scopes a sub-graph's declared node and edge IDs to one
// (instantiator, key) instance, so two concurrently live instances of the
// same declared sub-graph, one per discriminator, never collide inside
// the shared Cycle's node and edge index.
func namespacePrefix(instantiator node.ID, key string) string {
	return fmt.Sprintf("%s\x00%s\x00", instantiator, key)
}

// namespaceSpec rewrites spec's node and edge IDs (and every internal
// producer/consumer reference to them) under prefix, leaving everything
// else (kind, config, types, history depth) untouched.
func namespaceSpec(spec graphspec.SubGraphSpec, instantiator node.ID, key string) ([]graphspec.NodeSpec, []graphspec.EdgeSpec) {
	prefix := namespacePrefix(instantiator, key)

	nodes := make([]graphspec.NodeSpec, len(spec.Nodes))
	for i, ns := range spec.Nodes {
		nodes[i] = ns
		nodes[i].ID = node.ID(prefix + string(ns.ID))
	}

	edges := make([]graphspec.EdgeSpec, len(spec.Edges))
	for i, es := range spec.Edges {
		edges[i] = es
		edges[i].ID = edge.ID(prefix + string(es.ID))
		edges[i].Producer = node.ID(prefix + string(es.Producer))
		consumers := make([]graphspec.ConsumerSpec, len(es.Consumers))
		for j, c := range es.Consumers {
			consumers[j] = c
			consumers[j].Node = node.ID(prefix + string(c.Node))
		}
		edges[i].Consumers = consumers
	}
	return nodes, edges
}

// Instantiate builds and starts the sub-graph declared for instantiator,
// keyed by discriminator. It is the engine's implementation of
// node.Runtime.InstantiateSubGraph, called from inside a node's OnFire via
// Context.InstantiateSubGraph.
func (m *Manager) Instantiate(instantiator node.ID, discriminator value.Value) error {
	spec, ok := m.specs[instantiator]
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownSubGraph, "dynamic", "Instantiate",
			fmt.Sprintf("no sub-graph declared for instantiator %q", instantiator))
	}
	key, err := discriminatorKey(discriminator)
	if err != nil {
		return err
	}
	if keyed, ok := m.instances[instantiator]; ok {
		if _, exists := keyed[key]; exists {
			return errors.WrapInvalid(errors.ErrSubGraphAlreadyInstance, "dynamic", "Instantiate",
				fmt.Sprintf("sub-graph %q already instantiated for key %q", spec.Name, key))
		}
	}

	owner, ok := m.cycle.NodeByID(instantiator)
	if !ok {
		return errors.WrapInvalid(errors.ErrUnknownSubGraph, "dynamic", "Instantiate",
			fmt.Sprintf("instantiator %q is not a node in the running graph", instantiator))
	}

	nodeSpecs, edgeSpecs := namespaceSpec(spec, instantiator, key)
	frag, err := topology.BuildFragment(nodeSpecs, edgeSpecs, m.registry, m.metrics, owner.Rank()+1)
	if err != nil {
		return errors.WrapInvalid(err, "dynamic", "Instantiate",
			fmt.Sprintf("building sub-graph %q for key %q", spec.Name, key))
	}

	nodes := frag.Nodes()
	m.cycle.AddNodes(nodes, frag.FeedbackEdges())
	if err := m.cycle.StartNodes(nodes); err != nil {
		m.cycle.RemoveNodes(idsOf(nodes))
		return errors.WrapFatal(err, "dynamic", "Instantiate",
			fmt.Sprintf("starting sub-graph %q for key %q", spec.Name, key))
	}

	descending := make([]*node.Instance, len(nodes))
	copy(descending, nodes)
	reverse(descending)

	if m.instances[instantiator] == nil {
		m.instances[instantiator] = make(map[string]*instance)
	}
	m.instances[instantiator][key] = &instance{nodesAscending: nodes, nodesDescending: descending}

	if m.metrics != nil {
		m.metrics.RecordSubGraphInstantiated(string(instantiator))
	}
	m.logger.Info("dynamic: sub-graph instantiated", "subgraph", spec.Name, "instantiator", instantiator, "key", key, "nodes", len(nodes))
	return nil
}

// Teardown queues the sub-graph previously instantiated by instantiator
// under discriminator for removal once the current cycle finishes; the
// engine's implementation of node.Runtime.TeardownSubGraph. Tearing down a
// sub-graph that is mid-cycle (its OnFire still pending this time) would
// unwire edges a later rank in this same cycle may still read from or write
// to, so the unwiring itself always happens between cycles.
func (m *Manager) Teardown(instantiator node.ID, discriminator value.Value) error {
	key, err := discriminatorKey(discriminator)
	if err != nil {
		return err
	}
	keyed, ok := m.instances[instantiator]
	if !ok {
		return errors.WrapInvalid(errors.ErrSubGraphNotInstance, "dynamic", "Teardown",
			fmt.Sprintf("no sub-graph instantiated by %q", instantiator))
	}
	if _, exists := keyed[key]; !exists {
		return errors.WrapInvalid(errors.ErrSubGraphNotInstance, "dynamic", "Teardown",
			fmt.Sprintf("no sub-graph instance for key %q", key))
	}
	m.pendingTeardown = append(m.pendingTeardown, teardownRequest{instantiator: instantiator, key: key, discriminator: discriminator})
	return nil
}

// FlushTeardowns applies every teardown Teardown queued since the last
// flush: running OnStop over each instance's nodes in reverse rank order,
// canceling any alarm they still own, then unwiring them from the Cycle.
// The engine calls this once per cycle, after Advance returns.
func (m *Manager) FlushTeardowns() error {
	if len(m.pendingTeardown) == 0 {
		return nil
	}
	pending := m.pendingTeardown
	m.pendingTeardown = nil

	var firstErr error
	for _, req := range pending {
		keyed := m.instances[req.instantiator]
		if keyed == nil {
			continue
		}
		inst, ok := keyed[req.key]
		if !ok {
			continue
		}

		if err := m.cycle.StopNodes(inst.nodesDescending); err != nil && firstErr == nil {
			firstErr = err
		}
		if m.alarms != nil {
			for _, n := range inst.nodesAscending {
				m.alarms.CancelOwnedBy(n.ID())
			}
		}
		m.cycle.RemoveNodes(idsOf(inst.nodesAscending))
		delete(keyed, req.key)
		if len(keyed) == 0 {
			delete(m.instances, req.instantiator)
		}

		if m.metrics != nil {
			m.metrics.RecordSubGraphTornDown(string(req.instantiator))
		}
		m.logger.Info("dynamic: sub-graph torn down", "instantiator", req.instantiator, "key", req.key)
	}
	return firstErr
}

// ActiveCount reports how many sub-graph instances are currently live
// across every instantiator, for diagnostics and tests.
func (m *Manager) ActiveCount() int {
	n := 0
	for _, keyed := range m.instances {
		n += len(keyed)
	}
	return n
}

func idsOf(nodes []*node.Instance) []node.ID {
	ids := make([]node.ID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids
}

func reverse(nodes []*node.Instance) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}
