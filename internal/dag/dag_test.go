package dag

import (
	"errors"
	"testing"
)

func indexOf(order []string, name string) int {
	for i, n := range order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestTopoSortOrdersDependenciesFirst(t *testing.T) {
	g := New()
	// variant -> kit -> package
	g.AddEdge("variant", "kit")
	g.AddEdge("kit", "package")

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if indexOf(order, "package") > indexOf(order, "kit") {
		t.Fatalf("package must precede kit in %v", order)
	}
	if indexOf(order, "kit") > indexOf(order, "variant") {
		t.Fatalf("kit must precede variant in %v", order)
	}
}

func TestTopoSortDetectsCycle(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	_, err := g.TopoSort()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Path) != 3 {
		t.Fatalf("expected 3-node cycle, got %v", cycleErr.Path)
	}
}

func TestSelfEdgeIgnored(t *testing.T) {
	g := New()
	g.AddNode("solo")
	g.AddEdge("solo", "solo")

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 1 || order[0] != "solo" {
		t.Fatalf("got %v", order)
	}
}

func TestIndependentNodesBothAppear(t *testing.T) {
	g := New()
	g.AddNode("pkg-a")
	g.AddNode("pkg-b")

	order, err := g.TopoSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 {
		t.Fatalf("got %v", order)
	}
}
