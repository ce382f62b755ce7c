// Package dag provides the shared directed-graph traversal used by both the
// dependency resolver and the build graph driver: add nodes and edges, then
// ask for a topological order. Cycle detection is Tarjan's strongly
// connected components algorithm; any SCC larger than one node is a cycle.
package dag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pmengelbert/stack"
	"golang.org/x/exp/constraints"
	"k8s.io/apimachinery/pkg/util/sets"
)

type vertex struct {
	name    string
	index   *int
	lowlink int
	onStack bool
}

type edge struct {
	from *vertex
	to   *vertex
}

// Graph is a directed graph of named nodes. It is safe for concurrent use.
type Graph struct {
	mu       sync.Mutex
	vertices map[string]*vertex
	edges    sets.Set[edge]
	ordered  []string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		vertices: make(map[string]*vertex),
		edges:    sets.New[edge](),
	}
}

// AddNode registers name as a vertex. It is a no-op if name already exists.
func (g *Graph) AddNode(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addNodeLocked(name)
}

func (g *Graph) addNodeLocked(name string) *vertex {
	if v, ok := g.vertices[name]; ok {
		return v
	}
	v := &vertex{name: name}
	g.vertices[name] = v
	return v
}

// AddEdge records that from depends on to (from must be built/visited after
// to). Both ends are added as nodes if not already present. Self-edges are
// ignored, matching the teacher's "ignore if cycle is length 1" rule for
// a package that (degenerately) depends on itself.
func (g *Graph) AddEdge(from, to string) {
	if from == to {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	v := g.addNodeLocked(from)
	w := g.addNodeLocked(to)
	g.edges.Insert(edge{from: v, to: w})
}

// CycleError reports a dependency cycle found during TopoSort.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: { %s }", strings.Join(e.Path, ", "))
}

// TopoSort returns node names ordered so that every dependency precedes its
// dependents (edges point from dependent to dependency, so the dependency
// comes first in the returned order). Returns *CycleError if the graph is
// not acyclic.
func (g *Graph) TopoSort() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	vertices := make([]*vertex, 0, len(g.vertices))
	for _, v := range g.vertices {
		v.index = nil
		v.lowlink = 0
		v.onStack = false
		vertices = append(vertices, v)
	}

	components := g.stronglyConnect(vertices)

	for _, c := range components {
		if len(c) > 1 {
			names := make([]string, len(c))
			for i, v := range c {
				names[i] = v.name
			}
			return nil, &CycleError{Path: names}
		}
	}

	// Tarjan emits SCCs in reverse topological order of the edges. Edges
	// point from dependent to dependency, so that order already puts
	// dependencies before dependents, which is what buildgraph/resolve want;
	// no reversal is needed.
	out := make([]string, 0, len(vertices))
	for _, c := range components {
		for _, v := range c {
			out = append(out, v.name)
		}
	}

	return out, nil
}

// stronglyConnect runs Tarjan's algorithm over vertices using the graph's
// recorded edges, returning strongly connected components.
// https://en.wikipedia.org/wiki/Tarjan%27s_strongly_connected_components_algorithm
func (g *Graph) stronglyConnect(vertices []*vertex) [][]*vertex {
	index := 0
	s := stack.New[*vertex]()
	var output [][]*vertex

	var strongConnect func(v *vertex)
	strongConnect = func(v *vertex) {
		i := index
		v.index = &i
		v.lowlink = index
		index++

		s.Push(v)
		v.onStack = true

		for e := range g.edges {
			if e.from.name != v.name {
				continue
			}

			w := e.to
			if w.index == nil {
				strongConnect(w)
				v.lowlink = min(v.lowlink, w.lowlink)
				continue
			}

			if w.onStack {
				v.lowlink = min(v.lowlink, *w.index)
			}
		}

		if v.lowlink == *v.index {
			var component []*vertex
			for {
				opt := s.Pop()
				if !opt.IsSome() {
					break
				}
				w := opt.Unwrap()
				w.onStack = false
				component = append(component, w)
				if w == v {
					break
				}
			}
			output = append(output, component)
		}
	}

	for _, v := range vertices {
		if v.index == nil {
			strongConnect(v)
		}
	}

	return output
}

func min[T constraints.Ordered](x, y T) T {
	if x < y {
		return x
	}
	return y
}
