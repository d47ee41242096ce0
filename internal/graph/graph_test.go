package graph

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/Iron-Ham/milhouse/internal/errors"
)

func nodes(deps map[string][]string, order ...string) []Node {
	out := make([]Node, 0, len(order))
	for _, id := range order {
		out = append(out, Node{ID: id, DependsOn: deps[id]})
	}
	return out
}

func indexOf(order []string, id string) int {
	return slices.Index(order, id)
}

func TestTopologicalSort_DependenciesFirst(t *testing.T) {
	g := New(nodes(map[string][]string{
		"A": {},
		"B": {"A"},
		"C": {"A"},
	}, "A", "B", "C"))

	res := g.TopologicalSort()
	if res.HasCycle {
		t.Fatalf("unexpected cycle: %v", res.Cycle)
	}
	if len(res.Order) != 3 {
		t.Fatalf("Order = %v, want 3 nodes", res.Order)
	}
	if indexOf(res.Order, "A") > indexOf(res.Order, "B") || indexOf(res.Order, "A") > indexOf(res.Order, "C") {
		t.Errorf("A must precede B and C, got %v", res.Order)
	}
}

func TestTopologicalSort_Deterministic(t *testing.T) {
	g := New(nodes(map[string][]string{
		"x": {},
		"y": {},
		"z": {"x"},
	}, "y", "x", "z"))

	want := []string{"y", "x", "z"}
	for i := 0; i < 5; i++ {
		if got := g.TopologicalSort().Order; !slices.Equal(got, want) {
			t.Fatalf("Order = %v, want %v", got, want)
		}
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	g := New(nodes(map[string][]string{
		"A": {"B"},
		"B": {"A"},
		"C": {},
	}, "A", "B", "C"))

	res := g.TopologicalSort()
	if !res.HasCycle {
		t.Fatal("HasCycle = false, want true")
	}
	if !slices.Equal(res.Cycle, []string{"A", "B"}) {
		t.Errorf("Cycle = %v, want [A B]", res.Cycle)
	}
	if !slices.Equal(res.Order, []string{"C"}) {
		t.Errorf("Order = %v, want [C]", res.Order)
	}
}

func TestTopologicalSort_SelfLoopAndUnknownEdges(t *testing.T) {
	g := New([]Node{
		{ID: "A", DependsOn: []string{"A"}},
		{ID: "B", DependsOn: []string{"ghost"}},
	})

	res := g.TopologicalSort()
	if !res.HasCycle || !slices.Equal(res.Cycle, []string{"A"}) {
		t.Errorf("self loop: HasCycle=%v Cycle=%v", res.HasCycle, res.Cycle)
	}
	if !slices.Contains(res.Order, "B") {
		t.Errorf("edge to unknown id should be ignored, Order = %v", res.Order)
	}
}

func TestWouldCreateCycle(t *testing.T) {
	g := New(nodes(map[string][]string{
		"A": {},
		"B": {"A"},
		"C": {"B"},
	}, "A", "B", "C"))

	tests := []struct {
		from, to string
		want     bool
	}{
		{"A", "C", true},  // C -> B -> A, so A depending on C closes a loop
		{"A", "B", true},  // direct back edge
		{"C", "A", false}, // already implied
		{"A", "A", true},  // self dependency
		{"B", "ghost", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := g.WouldCreateCycle(tt.from, tt.to); got != tt.want {
				t.Errorf("WouldCreateCycle(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

// Edges accepted by WouldCreateCycle never make the graph unsortable.
func TestWouldCreateCycle_GuardKeepsGraphAcyclic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 25

	var ns []Node
	for i := 0; i < n; i++ {
		ns = append(ns, Node{ID: fmt.Sprintf("T%d", i)})
	}
	g := New(ns)

	for i := 0; i < 300; i++ {
		from := fmt.Sprintf("T%d", rng.Intn(n))
		to := fmt.Sprintf("T%d", rng.Intn(n))
		if g.WouldCreateCycle(from, to) {
			continue
		}
		if err := g.AddDependency(from, to); err != nil {
			t.Fatalf("AddDependency(%s, %s): %v", from, to, err)
		}
		if res := g.TopologicalSort(); res.HasCycle {
			t.Fatalf("cycle after adding %s -> %s: %v", from, to, res.Cycle)
		}
	}
}

func TestAddDependency(t *testing.T) {
	g := New(nodes(map[string][]string{"A": {}, "B": {"A"}}, "A", "B"))

	if err := g.AddDependency("A", "B"); !errors.Is(err, errors.ErrDependencyCycle) {
		t.Errorf("cycle edge error = %v, want ErrDependencyCycle", err)
	}
	if err := g.AddDependency("A", "missing"); !errors.Is(err, errors.ErrUnknownDependency) {
		t.Errorf("unknown target error = %v, want ErrUnknownDependency", err)
	}
	if err := g.AddDependency("missing", "A"); !errors.Is(err, errors.ErrUnknownDependency) {
		t.Errorf("unknown source error = %v, want ErrUnknownDependency", err)
	}
	if err := g.AddDependency("B", "A"); err != nil {
		t.Errorf("duplicate edge should be a no-op: %v", err)
	}
	if deps := g.Dependencies("B"); !slices.Equal(deps, []string{"A"}) {
		t.Errorf("Dependencies(B) = %v, want [A]", deps)
	}
}

func TestAssignParallelGroups(t *testing.T) {
	g := New(nodes(map[string][]string{
		"A": {},
		"B": {"A"},
		"C": {"A", "B"},
	}, "C", "B", "A"))

	groups, converged := g.AssignParallelGroups()
	if !converged {
		t.Fatal("converged = false on an acyclic graph")
	}
	want := map[string]int{"A": 0, "B": 1, "C": 2}
	for id, grp := range want {
		if groups[id] != grp {
			t.Errorf("group[%s] = %d, want %d", id, groups[id], grp)
		}
	}

	n, _ := g.Node("C")
	if n.ParallelGroup != 2 {
		t.Errorf("node C ParallelGroup = %d, want 2", n.ParallelGroup)
	}

	exec := g.ExecutionGroups()
	wantExec := [][]string{{"A"}, {"B"}, {"C"}}
	if len(exec) != len(wantExec) {
		t.Fatalf("ExecutionGroups = %v, want %v", exec, wantExec)
	}
	for i := range wantExec {
		if !slices.Equal(exec[i], wantExec[i]) {
			t.Errorf("ExecutionGroups[%d] = %v, want %v", i, exec[i], wantExec[i])
		}
	}
}

func TestAssignParallelGroups_CycleDoesNotConverge(t *testing.T) {
	g := New(nodes(map[string][]string{"A": {"B"}, "B": {"A"}}, "A", "B"))

	_, converged := g.AssignParallelGroups()
	if converged {
		t.Error("converged = true on a cyclic graph")
	}
}

func TestAssignParallelGroups_Empty(t *testing.T) {
	groups, converged := New(nil).AssignParallelGroups()
	if !converged || len(groups) != 0 {
		t.Errorf("empty graph: groups=%v converged=%v", groups, converged)
	}
}

func TestNew_CopiesAndDeduplicates(t *testing.T) {
	in := []Node{
		{ID: "A", DependsOn: []string{"B"}},
		{ID: "A", DependsOn: []string{"C"}},
		{ID: "B"},
	}
	g := New(in)
	in[0].DependsOn[0] = "mutated"

	if g.Len() != 2 {
		t.Errorf("Len() = %d, want 2", g.Len())
	}
	if deps := g.Dependencies("A"); !slices.Equal(deps, []string{"B"}) {
		t.Errorf("Dependencies(A) = %v, want [B]", deps)
	}
	if n, _ := g.Node("B"); n.DependsOn == nil {
		t.Error("nil depends_on should be normalized to empty")
	}
}
