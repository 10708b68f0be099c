package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/me/dagrun/pkg/model"
)

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each step ID to the step IDs it depends on (upstream).
	Edges map[string][]string
	// Order is the topological sort of steps (execution order).
	Order []string
}

// BuildDAG constructs a directed acyclic graph from step input bindings.
// It uses Kahn's algorithm for topological sort and cycle detection.
//
// A binding source "align/bam" creates an edge: align -> the binding's step.
// Bare sources (workflow inputs) create no edges. Gather members create an
// edge from each member to the gather step.
//
// Returns the dependency map and topological order, or an error naming the
// offending steps if a cycle exists.
func BuildDAG(g *model.Graph) (*DAGResult, error) {
	// forward[A] = [B, C] means A must complete before B and C.
	// deps[B] = [A] means B depends on A.
	forward := make(map[string][]string, len(g.Steps))
	deps := make(map[string][]string, len(g.Steps))
	inDegree := make(map[string]int, len(g.Steps))

	for id := range g.Steps {
		inDegree[id] = 0
	}

	for stepID, step := range g.Steps {
		seen := make(map[string]bool)
		upstream := make([]string, 0, len(step.In)+len(step.Members))
		for _, b := range step.In {
			if depID, _, ok := model.SplitSource(b.Source); ok {
				upstream = append(upstream, depID)
			}
		}
		upstream = append(upstream, step.Members...)

		for _, depID := range upstream {
			if depID == stepID {
				return nil, fmt.Errorf("workflow contains a cycle involving steps: %s", stepID)
			}
			if _, exists := g.Steps[depID]; !exists || seen[depID] {
				continue
			}
			seen[depID] = true
			forward[depID] = append(forward[depID], stepID)
			deps[stepID] = append(deps[stepID], depID)
			inDegree[stepID]++
		}
	}

	// Sort dependency lists for deterministic output.
	for id := range deps {
		sort.Strings(deps[id])
	}

	// Kahn's algorithm: BFS topological sort.
	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		successors := forward[node]
		sort.Strings(successors)
		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(g.Steps) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		return nil, fmt.Errorf("workflow contains a cycle involving steps: %s",
			strings.Join(cycleNodes, ", "))
	}

	return &DAGResult{
		Edges: deps,
		Order: order,
	}, nil
}
