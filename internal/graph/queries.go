package graph

import (
	"slices"
)

// Dependencies returns the ids id directly depends on, as recorded.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return slices.Clone(g.nodes[i].DependsOn)
}

// Dependents returns the ids of nodes that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	var out []string
	for _, n := range g.nodes {
		if slices.Contains(n.DependsOn, id) {
			out = append(out, n.ID)
		}
	}
	return out
}

// TransitiveDependencies returns every known node id reachable from id by
// following depends_on, in depth-first preorder. id itself is excluded.
func (g *Graph) TransitiveDependencies(id string) []string {
	return g.walk(id, g.Dependencies)
}

// TransitiveDependents returns every node id that depends on id directly or
// indirectly, in depth-first preorder. id itself is excluded.
func (g *Graph) TransitiveDependents(id string) []string {
	return g.walk(id, g.Dependents)
}

// walk is an iterative preorder DFS that visits neighbors in the order next
// returns them. The visited set makes it terminate on cyclic input.
func (g *Graph) walk(start string, next func(string) []string) []string {
	if !g.Has(start) {
		return nil
	}
	visited := map[string]bool{start: true}
	var out []string

	stack := reversed(next(start))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] || !g.Has(id) {
			continue
		}
		visited[id] = true
		out = append(out, id)
		stack = append(stack, reversed(next(id))...)
	}
	return out
}

func reversed(ids []string) []string {
	out := slices.Clone(ids)
	slices.Reverse(out)
	return out
}

// Roots returns nodes with no dependencies.
func (g *Graph) Roots() []string {
	var out []string
	for _, n := range g.nodes {
		if len(n.DependsOn) == 0 {
			out = append(out, n.ID)
		}
	}
	return out
}

// Leaves returns nodes that no other node depends on.
func (g *Graph) Leaves() []string {
	hasDependents := g.dependedOn()
	var out []string
	for _, n := range g.nodes {
		if !hasDependents[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

// Orphans returns nodes that are both roots and leaves.
func (g *Graph) Orphans() []string {
	hasDependents := g.dependedOn()
	var out []string
	for _, n := range g.nodes {
		if len(n.DependsOn) == 0 && !hasDependents[n.ID] {
			out = append(out, n.ID)
		}
	}
	return out
}

func (g *Graph) dependedOn() map[string]bool {
	seen := make(map[string]bool)
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			seen[dep] = true
		}
	}
	return seen
}

// MissingDependency is a depends_on entry that names no node.
type MissingDependency struct {
	NodeID    string `json:"node_id"`
	MissingID string `json:"missing_id"`
}

// Validate reports every dependency that does not resolve to a node. The
// graph is not modified.
func (g *Graph) Validate() []MissingDependency {
	var missing []MissingDependency
	for _, n := range g.nodes {
		for _, dep := range n.DependsOn {
			if !g.Has(dep) {
				missing = append(missing, MissingDependency{NodeID: n.ID, MissingID: dep})
			}
		}
	}
	return missing
}
