package opgraph

import (
	"errors"
	"fmt"
)

// ErrSelfEdge is returned when an edge would make an operation its own child.
var ErrSelfEdge = errors.New("self-referencing edge")

// AddEdge records that child runs after parent: child is appended to the
// parent's children and its dependency count grows by one. Repeated edges
// are ignored. Cycles are not checked here; Validate reports them.
func (g *Graph) AddEdge(parent, child OperationID) error {
	if parent == child {
		return fmt.Errorf("%w: %d", ErrSelfEdge, parent)
	}
	p, ok := g.operations[parent]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOperation, parent)
	}
	c, ok := g.operations[child]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownOperation, child)
	}
	for _, existing := range p.Children {
		if existing == child {
			return nil
		}
	}
	p.Children = append(p.Children, child)
	c.DependencyCount++
	return nil
}

// ComputeRoots sets the root set to every operation without dependencies.
func (g *Graph) ComputeRoots() {
	var roots []OperationID
	for _, id := range g.IDs() {
		if g.operations[id].DependencyCount == 0 {
			roots = append(roots, id)
		}
	}
	g.roots = roots
}
