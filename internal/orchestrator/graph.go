package orchestrator

import (
	"sort"
	"strings"

	"PromptHarvester/internal/domain"
)

// Node places a stage in the graph with its upstream dependencies.
type Node struct {
	Stage     Stage
	DependsOn []string
}

// Graph is a validated, immutable DAG of stages in declaration order.
type Graph struct {
	nodes []Node
	index map[string]int
}

// NewGraph validates ids, dependencies and acyclicity.
func NewGraph(nodes ...Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, domain.NewValidationError("stages", "graph has no stages")
	}

	g := &Graph{index: make(map[string]int, len(nodes))}
	for i, n := range nodes {
		if n.Stage == nil {
			return nil, domain.NewValidationError("stages", "node %d has no stage", i)
		}
		id := n.Stage.ID()
		if id == "" {
			return nil, domain.NewValidationError("stages", "node %d has an empty id", i)
		}
		if !n.Stage.Kind().Valid() {
			return nil, domain.NewValidationError("stages."+id, "unknown kind %q", n.Stage.Kind())
		}
		if _, dup := g.index[id]; dup {
			return nil, domain.NewValidationError("stages."+id, "duplicate stage id")
		}
		g.index[id] = i
		g.nodes = append(g.nodes, Node{Stage: n.Stage, DependsOn: append([]string(nil), n.DependsOn...)})
	}

	for _, n := range g.nodes {
		seen := map[string]struct{}{}
		for _, dep := range n.DependsOn {
			if dep == n.Stage.ID() {
				return nil, domain.NewValidationError("stages."+dep, "stage depends on itself")
			}
			if _, ok := g.index[dep]; !ok {
				return nil, domain.NewValidationError("stages."+n.Stage.ID(), "unknown dependency %q", dep)
			}
			if _, ok := seen[dep]; ok {
				return nil, domain.NewValidationError("stages."+n.Stage.ID(), "duplicate dependency %q", dep)
			}
			seen[dep] = struct{}{}
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		return nil, domain.NewValidationError("stages", "dependency cycle among %s", strings.Join(cycle, ", "))
	}
	return g, nil
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Len returns the number of stages.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// findCycle runs Kahn's algorithm and returns the ids left unresolved.
func (g *Graph) findCycle() []string {
	indegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		indegree[i] = len(n.DependsOn)
		for _, dep := range n.DependsOn {
			d := g.index[dep]
			dependents[d] = append(dependents[d], i)
		}
	}

	queue := make([]int, 0, len(g.nodes))
	for i, deg := range indegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}
	resolved := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		resolved++
		for _, next := range dependents[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if resolved == len(g.nodes) {
		return nil
	}

	var stuck []string
	for i, deg := range indegree {
		if deg > 0 {
			stuck = append(stuck, g.nodes[i].Stage.ID())
		}
	}
	sort.Strings(stuck)
	return stuck
}
