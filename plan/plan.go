// Package plan implements the invocation planner: it orders one LLM
// response's parsed gadget calls by their declared dependencies, detecting
// unknown dependencies and cycles (spec.md §4.3).
package plan

import (
	"github.com/relayforge/gadgetloop/marker"
)

// Status classifies a node's placement in the plan before execution.
type Status string

const (
	// StatusReady means the node has no unresolved issues; it will run once
	// its dependencies complete.
	StatusReady Status = "ready"
	// StatusUnknownDependency means a declared dependency id does not match
	// any call in the same batch (spec.md §4.3).
	StatusUnknownDependency Status = "unknown_dependency"
	// StatusCycle means the node belongs to a dependency cycle or depends,
	// directly or transitively, on a node in one; none of these nodes
	// execute (spec.md §4.3).
	StatusCycle Status = "cycle"
)

// Node is one planned call plus its resolved status.
type Node struct {
	Call         marker.GadgetCall
	Status       Status
	MissingDeps  []string // dependency ids with no matching call, for StatusUnknownDependency
}

// Graph is the planner's output: a DAG over one batch's calls plus the
// diagnosis needed to skip/execute each one (spec.md §4.3 Output).
type Graph struct {
	nodes   map[string]*Node // by invocation id
	order   []string         // batch order, for FIFO ancestor waiting (spec.md §4.3 Ordering)
}

// Build constructs the Graph from one LLM response's parsed calls. Calls
// whose invocation id repeats within the batch keep the first occurrence;
// later duplicates are still planned (the executor may still report a
// registry/parse error for them) but cannot be depended on unambiguously.
func Build(calls []marker.GadgetCall) *Graph {
	g := &Graph{nodes: map[string]*Node{}}
	for _, c := range calls {
		id := c.InvocationID
		if id == "" || g.nodes[id] != nil {
			// auto-generate a synthetic unique key for missing/duplicate ids
			// so every call is still represented in the graph and orderable.
			id = syntheticID(g, c)
		}
		g.nodes[id] = &Node{Call: c, Status: StatusReady}
		g.order = append(g.order, id)
	}

	for id, n := range g.nodes {
		var missing []string
		for _, dep := range n.Call.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			n.Status = StatusUnknownDependency
			n.MissingDeps = missing
		}
		_ = id
	}

	markCycles(g)
	return g
}

// syntheticID fabricates a stable per-batch key for a call with a missing or
// colliding invocation id, so the graph can still hold and order it; such a
// call can never be the *target* of a dependency (nothing in the same batch
// could have named it), matching spec.md §9's "impossible to express" note.
func syntheticID(g *Graph, c marker.GadgetCall) string {
	base := "__auto__/" + c.Name
	id := base
	for n := 1; g.nodes[id] != nil; n++ {
		id = base + "#" + itoa(n)
	}
	return id
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

// Ready returns the invocation ids (in batch order) whose dependencies are
// all in completed, and which are not themselves unknown-dependency or cycle
// nodes.
func (g *Graph) Ready(completed map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Status != StatusReady {
			continue
		}
		if completed[id] {
			continue
		}
		allDone := true
		for _, dep := range n.Call.Dependencies {
			if !completed[dep] {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, id)
		}
	}
	return ready
}

// Node looks up a planned node by its (possibly synthetic) id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// IDs returns every id in batch order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// markCycles runs Kahn's algorithm over the ready+unknown-dependency-free
// subset of nodes (unknown-dependency nodes are already terminal and do not
// participate in cycle detection beyond being an unsatisfiable dependency
// for others) and marks every node left over as StatusCycle.
func markCycles(g *Graph) {
	indegree := map[string]int{}
	dependents := map[string][]string{} // dep -> nodes that depend on it

	candidates := map[string]bool{}
	for id, n := range g.nodes {
		if n.Status == StatusReady {
			candidates[id] = true
		}
	}

	for id := range candidates {
		n := g.nodes[id]
		count := 0
		for _, dep := range n.Call.Dependencies {
			if candidates[dep] {
				count++
				dependents[dep] = append(dependents[dep], id)
			}
		}
		indegree[id] = count
	}

	var queue []string
	for _, id := range g.order {
		if candidates[id] && indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := map[string]bool{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited[id] = true
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	for id := range candidates {
		if !visited[id] {
			g.nodes[id].Status = StatusCycle
		}
	}
}
