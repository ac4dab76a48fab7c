// Package graphspec is the graph submission document's home: the YAML
// shape an operator writes, a JSON schema (embedded from schema/graph.
// schema.json) that rejects a malformed document before topology.Build
// ever sees it, and the conversion into the node.ID/edge.ID/value.Type-
// typed Graph that topology.Build and dynamic.Manager consume.
package graphspec
