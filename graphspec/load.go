package graphspec

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/node"
)

//go:embed schema/graph.schema.json
var graphSchemaJSON []byte

var graphSchema = gojsonschema.NewBytesLoader(graphSchemaJSON)

type yamlConsumer struct {
	Node         string `yaml:"node"`
	Input        int    `yaml:"input"`
	Active       bool   `yaml:"active"`
	HistoryDepth int    `yaml:"history_depth"`
}

type yamlNode struct {
	ID     string `yaml:"id"`
	Kind   string `yaml:"kind"`
	Config any    `yaml:"config"`
}

type yamlEdge struct {
	ID        string         `yaml:"id"`
	Producer  string         `yaml:"producer"`
	Output    int            `yaml:"output"`
	Type      string         `yaml:"type"`
	Feedback  bool           `yaml:"feedback"`
	Consumers []yamlConsumer `yaml:"consumers"`
}

type yamlAdapter struct {
	ID        string `yaml:"id"`
	Kind      string `yaml:"kind"`
	Direction string `yaml:"direction"`
	Edge      string `yaml:"edge"`
	Config    any    `yaml:"config"`
}

type yamlSubGraph struct {
	Name         string     `yaml:"name"`
	Instantiator string     `yaml:"instantiator"`
	Nodes        []yamlNode `yaml:"nodes"`
	Edges        []yamlEdge `yaml:"edges"`
}

type yamlDoc struct {
	Nodes     []yamlNode     `yaml:"nodes"`
	Edges     []yamlEdge     `yaml:"edges"`
	Adapters  []yamlAdapter  `yaml:"adapters"`
	SubGraphs []yamlSubGraph `yaml:"subgraphs"`
}

// Load reads, schema-validates, and parses the graph submission document at
// path. Read, YAML, decoding and schema-validation errors are returned as
// build-phase (fatal) classified errors, since each means the document
// cannot be used to build a graph. An unrecognized type signature or an
// unsupported config value found during conversion is returned
// invalid-classified.
func Load(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "graphspec", "Load", "reading graph document")
	}

	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, errors.WrapFatal(err, "graphspec", "Load", "parsing YAML")
	}
	if err := validateAgainstSchema(generic); err != nil {
		return nil, err
	}

	var doc yamlDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.WrapFatal(err, "graphspec", "Load", "decoding graph document")
	}

	return buildGraph(doc)
}

// validateAgainstSchema checks doc (already decoded to a plain any tree by
// yaml.v3, which produces JSON-compatible map[string]any/[]any/scalars)
// against the embedded JSON schema.
func validateAgainstSchema(doc any) error {
	asJSON, err := json.Marshal(doc)
	if err != nil {
		return errors.WrapFatal(err, "graphspec", "validateAgainstSchema", "re-marshaling document to JSON")
	}

	result, err := gojsonschema.Validate(graphSchema, gojsonschema.NewBytesLoader(asJSON))
	if err != nil {
		return errors.WrapFatal(err, "graphspec", "validateAgainstSchema", "running schema validation")
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return errors.WrapFatal(fmt.Errorf("schema violations: %s", strings.Join(msgs, "; ")),
			"graphspec", "validateAgainstSchema", "graph document failed schema validation")
	}
	return nil
}

func buildGraph(doc yamlDoc) (*Graph, error) {
	g := &Graph{}

	for _, n := range doc.Nodes {
		spec, err := toNodeSpec(n)
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, spec)
	}

	for _, e := range doc.Edges {
		spec, err := toEdgeSpec(e)
		if err != nil {
			return nil, err
		}
		g.Edges = append(g.Edges, spec)
	}

	for _, a := range doc.Adapters {
		cfg, err := configToValue(a.Config)
		if err != nil {
			return nil, err
		}
		g.Adapters = append(g.Adapters, AdapterSpec{
			ID:        a.ID,
			Kind:      a.Kind,
			Direction: AdapterDirection(a.Direction),
			Edge:      edge.ID(a.Edge),
			Config:    cfg,
		})
	}

	for _, s := range doc.SubGraphs {
		sub := SubGraphSpec{Name: s.Name, Instantiator: node.ID(s.Instantiator)}
		for _, n := range s.Nodes {
			spec, err := toNodeSpec(n)
			if err != nil {
				return nil, err
			}
			sub.Nodes = append(sub.Nodes, spec)
		}
		for _, e := range s.Edges {
			spec, err := toEdgeSpec(e)
			if err != nil {
				return nil, err
			}
			sub.Edges = append(sub.Edges, spec)
		}
		g.SubGraphs = append(g.SubGraphs, sub)
	}

	return g, nil
}

func toNodeSpec(n yamlNode) (NodeSpec, error) {
	cfg, err := configToValue(n.Config)
	if err != nil {
		return NodeSpec{}, err
	}
	return NodeSpec{ID: node.ID(n.ID), Kind: n.Kind, Config: cfg}, nil
}

func toEdgeSpec(e yamlEdge) (EdgeSpec, error) {
	typ, err := parseType(e.Type)
	if err != nil {
		return EdgeSpec{}, err
	}
	spec := EdgeSpec{
		ID:          edge.ID(e.ID),
		Producer:    node.ID(e.Producer),
		OutputIndex: e.Output,
		Type:        typ,
		Feedback:    e.Feedback,
	}
	for _, c := range e.Consumers {
		spec.Consumers = append(spec.Consumers, ConsumerSpec{
			Node:         node.ID(c.Node),
			InputIndex:   c.Input,
			Active:       c.Active,
			HistoryDepth: c.HistoryDepth,
		})
	}
	return spec, nil
}
