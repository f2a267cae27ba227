// Package dag builds the action dependency graph and drives every action
// through the phase protocol: a sequential init sweep (design-time dry run)
// followed by a concurrent exec sweep in dependency order.
package dag

import (
	"fmt"
	"sync"
	"sync/atomic"

	"strata/internal/action"
)

type nodeState int32

const (
	statePending nodeState = iota
	stateRunning
	stateSucceeded
	stateSkipped
	stateFailed
)

type Node struct {
	Action     *action.Action
	deps       map[string]*Node
	dependents map[string]*Node

	depCount atomic.Int32
	state    atomic.Int32
	skipOnce sync.Once
	err      error
}

func (n *Node) ID() string { return n.Action.ID() }

type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func NewGraph() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

func (g *Graph) AddNode(a *action.Action) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[a.ID()]; ok {
		return fmt.Errorf("duplicate action %q in graph", a.ID())
	}
	g.nodes[a.ID()] = &Node{
		Action:     a,
		deps:       map[string]*Node{},
		dependents: map[string]*Node{},
	}
	return nil
}

// AddEdge makes toID depend on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s", fromID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	from, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	to.deps[fromID] = from
	from.dependents[toID] = to
	return nil
}

// DetectCycles runs a depth-first search with temporary/permanent marks and
// reports the first node involved in a cycle.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	permanent := map[string]bool{}
	temporary := map[string]bool{}

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.ID()] {
			return nil
		}
		if temporary[n.ID()] {
			return fmt.Errorf("cycle detected involving action %q", n.ID())
		}
		temporary[n.ID()] = true
		for _, d := range n.dependents {
			if err := visit(d); err != nil {
				return err
			}
		}
		delete(temporary, n.ID())
		permanent[n.ID()] = true
		return nil
	}
	for _, n := range g.nodes {
		if !permanent[n.ID()] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoOrder returns the nodes in dependency order (Kahn's algorithm);
// DetectCycles must have passed first.
func (g *Graph) TopoOrder() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDeg := map[string]int{}
	var ready []*Node
	for id, n := range g.nodes {
		inDeg[id] = len(n.deps)
		if len(n.deps) == 0 {
			ready = append(ready, n)
		}
	}
	var order []*Node
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for id, d := range n.dependents {
			inDeg[id]--
			if inDeg[id] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return order
}

func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}
