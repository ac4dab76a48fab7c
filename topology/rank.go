package topology

import (
	"fmt"
	"sort"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/node"
)

// assignRanks runs Kahn's algorithm over the non-feedback subgraph to
// assign each node a rank such that every non-feedback edge's producer
// has a strictly lower rank than its consumers; the invariant the
// scheduler's ascending-rank drain loop depends on. Feedback edges are
// excluded from the dependency graph entirely: they are the declared
// escape hatch for a cycle the document's author already knows about, and
// their consumers fire in a secondary same-time pass rather than being
// rank-ordered against their producer. A residual cycle after removing
// feedback edges is a build error.
func assignRanks(nodes map[node.ID]*node.Instance, edgeSpecs []graphspec.EdgeSpec, feedback map[edge.ID]bool, rankOffset int) (map[node.ID]int, error) {
	indegree := make(map[node.ID]int, len(nodes))
	successors := make(map[node.ID][]node.ID, len(nodes))
	for id := range nodes {
		indegree[id] = 0
	}

	for _, es := range edgeSpecs {
		if feedback[es.ID] {
			continue
		}
		consumerSet := map[node.ID]bool{}
		for _, c := range es.Consumers {
			consumerSet[c.Node] = true
		}
		for consumer := range consumerSet {
			successors[es.Producer] = append(successors[es.Producer], consumer)
			indegree[consumer]++
		}
	}

	ranks := make(map[node.ID]int, len(nodes))
	for id := range nodes {
		ranks[id] = rankOffset
	}

	var frontier []node.ID
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}

	visited := 0
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return frontier[i] < frontier[j] })
		id := frontier[0]
		frontier = frontier[1:]
		visited++

		for _, succ := range successors[id] {
			if ranks[id]+1 > ranks[succ] {
				ranks[succ] = ranks[id] + 1
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				frontier = append(frontier, succ)
			}
		}
	}

	if visited != len(nodes) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, string(id))
			}
		}
		sort.Strings(stuck)
		return nil, errors.WrapFatal(errors.ErrCycleDetected, "topology", "assignRanks",
			fmt.Sprintf("non-feedback cycle involving: %v", stuck))
	}

	return ranks, nil
}
