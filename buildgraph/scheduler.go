package buildgraph

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Executor runs one build node's container recipe (spec §4.7's run_stage,
// invoked per node). containerexec.NodeExecutor satisfies this interface.
type Executor interface {
	Run(ctx context.Context, n *Node) error
}

// Event is emitted on the scheduler's event stream as each node changes
// state, for progress reporting (spec §4.5: "transitions are observable
// through an event stream").
type Event struct {
	Node  string
	State State
	Err   error
}

// Scheduler runs a Graph's nodes with bounded parallelism over independent
// nodes, in topological waves (Kahn's algorithm): every node in a wave has
// had all its dependencies resolve to a terminal state before the wave
// starts, so nodes within a wave are safe to run concurrently.
type Scheduler struct {
	Graph       *Graph
	Executor    Executor
	Concurrency int
	Events      chan<- Event
}

// NewScheduler returns a Scheduler with concurrency defaulted to
// runtime.NumCPU() when n <= 0, matching spec §5's "bounded worker pool
// sized to the effective CPU count".
func NewScheduler(g *Graph, exec Executor, n int) *Scheduler {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Scheduler{Graph: g, Executor: exec, Concurrency: n}
}

// Run executes every node in g, respecting dependency order, retrying
// nothing (spec §4.5: "retries are not automatic"). It returns once every
// node has reached a terminal state. A failed node's dependents are
// reported Cancelled, not Failed, and never run (spec §4.5/§5).
func (s *Scheduler) Run(ctx context.Context) error {
	nodes := s.Graph.Nodes()

	dependents := make(map[string][]string, len(nodes))
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.Name] = len(n.Deps)
		for _, dep := range n.Deps {
			dependents[dep] = append(dependents[dep], n.Name)
		}
	}

	ready := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if indegree[n.Name] == 0 {
			ready = append(ready, n.Name)
		}
	}

	sem := semaphore.NewWeighted(int64(s.Concurrency))
	remaining := len(nodes)

	for remaining > 0 {
		if len(ready) == 0 {
			return fmt.Errorf("build graph deadlock: %d nodes never became ready", remaining)
		}

		wave := ready
		ready = nil

		eg, egCtx := errgroup.WithContext(ctx)
		for _, name := range wave {
			name := name
			n, _ := s.Graph.Node(name)

			eg.Go(func() error {
				if err := sem.Acquire(egCtx, 1); err != nil {
					s.finish(n, StateCancelled, err)
					return nil
				}
				defer sem.Release(1)

				if cancelled(n) {
					s.finish(n, StateCancelled, egCtx.Err())
					return nil
				}

				n.transition(StatePending, StateReady)
				n.transition(StateReady, StateRunning)
				s.emit(n.Name, StateRunning, nil)

				if err := s.Executor.Run(egCtx, n); err != nil {
					n.transition(StateRunning, StateFailed)
					s.emit(n.Name, StateFailed, err)
					return nil
				}

				n.transition(StateRunning, StateSucceeded)
				s.emit(n.Name, StateSucceeded, nil)
				return nil
			})
		}
		_ = eg.Wait()

		for _, name := range wave {
			n, _ := s.Graph.Node(name)
			remaining--
			for _, depName := range dependents[name] {
				indegree[depName]--
				if n.State() != StateSucceeded {
					propagateCancel(s, depName, indegree, dependents, &remaining)
					continue
				}
				if indegree[depName] == 0 {
					if dn, ok := s.Graph.Node(depName); ok && dn.State() == StatePending {
						ready = append(ready, depName)
					}
				}
			}
		}
	}

	return nil
}

// propagateCancel marks name (and everything transitively depending on it
// that has not already finished) Cancelled, decrementing remaining for each
// node it disposes of without running.
func propagateCancel(s *Scheduler, name string, indegree map[string]int, dependents map[string][]string, remaining *int) {
	n, ok := s.Graph.Node(name)
	if !ok {
		return
	}
	if !n.transition(StatePending, StateCancelled) {
		return
	}
	s.emit(name, StateCancelled, context.Canceled)
	*remaining--
	for _, depName := range dependents[name] {
		indegree[depName]--
		propagateCancel(s, depName, indegree, dependents, remaining)
	}
}

func cancelled(n *Node) bool {
	return n.State() == StateCancelled
}

func (s *Scheduler) finish(n *Node, state State, err error) {
	n.transition(n.State(), state)
	s.emit(n.Name, state, err)
}

func (s *Scheduler) emit(name string, state State, err error) {
	if s.Events == nil {
		return
	}
	select {
	case s.Events <- Event{Node: name, State: state, Err: err}:
	default:
	}
}
