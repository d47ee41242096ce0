// Package graph orders tasks by their dependencies.
//
// A [Graph] is built from [Node] values, each naming the ids it depends on.
// "A depends on B" is an edge A -> B and means B must finish before A
// starts. The package answers ordering questions (topological sort, cycle
// detection, parallel execution groups) and reachability questions (direct
// and transitive dependencies and dependents). All traversals are iterative.
//
// A Graph is not safe for concurrent mutation; callers build one from a
// snapshot of tasks, query it, and discard it.
package graph

import (
	"fmt"
	"slices"
	"sort"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

// Node is one task's position in the dependency graph. It is also the
// record type stored in graph.json.
type Node struct {
	ID            string   `json:"id" validate:"required"`
	DependsOn     []string `json:"depends_on" validate:"dive,required"`
	ParallelGroup int      `json:"parallel_group" validate:"gte=0"`
}

// Graph is a dependency graph over nodes kept in insertion order.
type Graph struct {
	nodes []Node
	index map[string]int
}

// New builds a Graph from nodes. Nodes are copied; for duplicate ids the
// first occurrence wins.
func New(nodes []Node) *Graph {
	g := &Graph{
		nodes: make([]Node, 0, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}
	for _, n := range nodes {
		if _, dup := g.index[n.ID]; dup {
			continue
		}
		n.DependsOn = slices.Clone(n.DependsOn)
		if n.DependsOn == nil {
			n.DependsOn = []string{}
		}
		g.index[n.ID] = len(g.nodes)
		g.nodes = append(g.nodes, n)
	}
	return g
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns a copy of the nodes in insertion order.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	for i, n := range g.nodes {
		n.DependsOn = slices.Clone(n.DependsOn)
		out[i] = n
	}
	return out
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	n := g.nodes[i]
	n.DependsOn = slices.Clone(n.DependsOn)
	return n, true
}

// Has reports whether id is a node of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// SortResult is the outcome of a topological sort.
type SortResult struct {
	// Order lists every node that could be ordered, dependencies first.
	Order []string
	// HasCycle is true when some nodes could not be ordered.
	HasCycle bool
	// Cycle lists, sorted, the nodes left with unresolved in-degree. It is a
	// superset of the nodes on an actual cycle.
	Cycle []string
}

// TopologicalSort orders the nodes with Kahn's algorithm. Edges to unknown
// ids are ignored. Nodes that become ready at the same time keep their
// insertion order.
func (g *Graph) TopologicalSort() SortResult {
	inDegree := make([]int, len(g.nodes))
	dependents := make([][]int, len(g.nodes))
	for i, n := range g.nodes {
		for _, dep := range n.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				continue
			}
			inDegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	queue := make([]int, 0, len(g.nodes))
	for i := range g.nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, g.nodes[i].ID)
		for _, d := range dependents[i] {
			inDegree[d]--
			if inDegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}

	result := SortResult{Order: order}
	if len(order) < len(g.nodes) {
		result.HasCycle = true
		for i, deg := range inDegree {
			if deg > 0 {
				result.Cycle = append(result.Cycle, g.nodes[i].ID)
			}
		}
		sort.Strings(result.Cycle)
	}
	return result
}

// WouldCreateCycle reports whether adding "from depends on to" would close
// a cycle, which is the case when from is reachable from to.
func (g *Graph) WouldCreateCycle(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{to: true}
	stack := []string{to}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		i, ok := g.index[id]
		if !ok {
			continue
		}
		for _, dep := range g.nodes[i].DependsOn {
			if dep == from {
				return true
			}
			if !visited[dep] {
				visited[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// AddDependency records that from depends on to. Both nodes must exist and
// the edge must not close a cycle. Adding an existing edge is a no-op.
func (g *Graph) AddDependency(from, to string) error {
	i, ok := g.index[from]
	if !ok {
		return fmt.Errorf("task %s: %w", from, errors.ErrUnknownDependency)
	}
	if !g.Has(to) {
		return fmt.Errorf("task %s depends on %s: %w", from, to, errors.ErrUnknownDependency)
	}
	if slices.Contains(g.nodes[i].DependsOn, to) {
		return nil
	}
	if g.WouldCreateCycle(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, errors.ErrDependencyCycle)
	}
	g.nodes[i].DependsOn = append(g.nodes[i].DependsOn, to)
	return nil
}

// AssignParallelGroups sets each node's group to one more than the highest
// group among its dependencies (0 for nodes without known dependencies).
// Passes repeat until nothing changes, bounded by the node count; converged
// is false when the bound was hit, which only happens on cyclic graphs.
// The computed groups are also stored on the graph's nodes.
func (g *Graph) AssignParallelGroups() (groups map[string]int, converged bool) {
	level := make([]int, len(g.nodes))
	converged = len(g.nodes) == 0

	for pass := 0; pass < len(g.nodes); pass++ {
		changed := false
		for i, n := range g.nodes {
			want := 0
			for _, dep := range n.DependsOn {
				if j, ok := g.index[dep]; ok && level[j]+1 > want {
					want = level[j] + 1
				}
			}
			if want > level[i] {
				level[i] = want
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}
	}

	groups = make(map[string]int, len(g.nodes))
	for i := range g.nodes {
		g.nodes[i].ParallelGroup = level[i]
		groups[g.nodes[i].ID] = level[i]
	}
	return groups, converged
}

// ExecutionGroups buckets node ids by their current ParallelGroup, lowest
// group first. Empty groups are omitted.
func (g *Graph) ExecutionGroups() [][]string {
	byGroup := make(map[int][]string)
	var keys []int
	for _, n := range g.nodes {
		if _, ok := byGroup[n.ParallelGroup]; !ok {
			keys = append(keys, n.ParallelGroup)
		}
		byGroup[n.ParallelGroup] = append(byGroup[n.ParallelGroup], n.ID)
	}
	sort.Ints(keys)

	out := make([][]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, byGroup[k])
	}
	return out
}
