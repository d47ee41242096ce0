package state

import (
	"context"

	"github.com/Iron-Ham/milhouse/internal/graph"
	"github.com/Iron-Ham/milhouse/internal/paths"
)

// GraphStore reads and writes graph.json, the persisted mirror of task
// dependencies.
type GraphStore struct {
	c *Collection[graph.Node]
}

// GraphForRun returns the graph store of runID ("" for legacy).
func (s *Store) GraphForRun(runID string) *GraphStore {
	return &GraphStore{
		c: newCollection(s, paths.KeyGraph, runID, func(n *graph.Node) string { return n.ID }),
	}
}

// Path returns the graph.json path.
func (s *GraphStore) Path() string { return s.c.Path() }

// Load returns the valid nodes.
func (s *GraphStore) Load(ctx context.Context) ([]graph.Node, error) {
	return s.c.Load(ctx)
}

// LoadDetailed returns valid nodes plus the rejected records.
func (s *GraphStore) LoadDetailed(ctx context.Context) (DecodeResult[graph.Node], error) {
	return s.c.LoadDetailed(ctx)
}

// Save replaces all nodes.
func (s *GraphStore) Save(ctx context.Context, nodes []graph.Node) error {
	return s.c.Save(ctx, nodes)
}

// Replace overwrites the file with nodes, including an empty set, as long
// as every record currently on disk is valid.
func (s *GraphStore) Replace(ctx context.Context, nodes []graph.Node) error {
	return s.c.mutate(ctx, false, func([]graph.Node) ([]graph.Node, bool, error) {
		return nodes, true, nil
	})
}

// Graph loads the persisted nodes into a Graph.
func (s *GraphStore) Graph(ctx context.Context) (*graph.Graph, error) {
	nodes, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return graph.New(nodes), nil
}
