// Package opgraph models the build as a directed acyclic graph of operations.
// Edges point from an operation to the children that must run after it; each
// operation carries the number of parents it waits on. Operations reference
// each other and their files only by id.
package opgraph

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/papapumpkin/kiln/internal/filereg"
)

// ErrDuplicateOperation is returned when adding an operation whose id exists.
var ErrDuplicateOperation = errors.New("duplicate operation id")

// ErrDuplicateCommand is returned when adding an operation whose command exists.
var ErrDuplicateCommand = errors.New("duplicate command")

// ErrUnknownOperation is returned when an edge references a missing operation.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrDependencyCount is returned when an operation's dependency count does
// not match its incoming edges.
var ErrDependencyCount = errors.New("dependency count mismatch")

// ErrCycle is returned when the graph contains a dependency cycle.
var ErrCycle = errors.New("cycle detected")

// ErrRootSet is returned when an operation without dependencies is missing
// from the root set.
var ErrRootSet = errors.New("root set incomplete")

// OperationID identifies an operation within one graph.
type OperationID uint32

// CommandIdentity is the natural key of an operation. Two operations with
// the same identity are the same build step across graph rebuilds.
type CommandIdentity struct {
	WorkingDirectory string
	Executable       string
	Arguments        string
}

// String renders the command as it would be typed in WorkingDirectory.
func (c CommandIdentity) String() string {
	if c.Arguments == "" {
		return c.Executable
	}
	return c.Executable + " " + c.Arguments
}

// Operation is one node of the graph.
type Operation struct {
	ID      OperationID
	Title   string
	Command CommandIdentity

	DeclaredInputs  []filereg.FileID
	DeclaredOutputs []filereg.FileID
	// ReadAccess and WriteAccess are allow-lists handed to the executor.
	ReadAccess  []filereg.FileID
	WriteAccess []filereg.FileID

	Children        []OperationID
	DependencyCount uint32

	// Outcome of the last execution, mirrored from the history.
	WasSuccessfulRun bool
	EvaluateTime     time.Time
	ObservedInputs   []filereg.FileID
	ObservedOutputs  []filereg.FileID
}

// Files returns every file id the operation references, unsorted and with
// duplicates.
func (op *Operation) Files() []filereg.FileID {
	var ids []filereg.FileID
	for _, set := range [][]filereg.FileID{
		op.DeclaredInputs, op.DeclaredOutputs,
		op.ReadAccess, op.WriteAccess,
		op.ObservedInputs, op.ObservedOutputs,
	} {
		ids = append(ids, set...)
	}
	return ids
}

// Graph holds operations keyed by id and by command.
type Graph struct {
	roots      []OperationID
	operations map[OperationID]*Operation
	lookup     map[CommandIdentity]OperationID
	maxID      OperationID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		operations: make(map[OperationID]*Operation),
		lookup:     make(map[CommandIdentity]OperationID),
	}
}

// AddOperation inserts op by id and by command. It fails without modifying
// the graph if either key is already present.
func (g *Graph) AddOperation(op *Operation) error {
	if _, exists := g.operations[op.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateOperation, op.ID)
	}
	if other, exists := g.lookup[op.Command]; exists {
		return fmt.Errorf("%w: %q already used by operation %d", ErrDuplicateCommand, op.Command.String(), other)
	}
	g.operations[op.ID] = op
	g.lookup[op.Command] = op.ID
	if op.ID > g.maxID {
		g.maxID = op.ID
	}
	return nil
}

// Operation returns the operation with the given id, or nil.
func (g *Graph) Operation(id OperationID) *Operation {
	return g.operations[id]
}

// FindOperationByCommand returns the id registered for command.
func (g *Graph) FindOperationByCommand(command CommandIdentity) (OperationID, bool) {
	id, ok := g.lookup[command]
	return id, ok
}

// SetRootOperationIDs replaces the root set.
func (g *Graph) SetRootOperationIDs(ids []OperationID) {
	g.roots = append([]OperationID(nil), ids...)
}

// RootOperationIDs returns the operations with no incoming edges.
func (g *Graph) RootOperationIDs() []OperationID {
	return g.roots
}

// IDs returns all operation ids in ascending order.
func (g *Graph) IDs() []OperationID {
	ids := make([]OperationID, 0, len(g.operations))
	for id := range g.operations {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Len returns the number of operations.
func (g *Graph) Len() int {
	return len(g.operations)
}

// MaxID returns the highest operation id in the graph.
func (g *Graph) MaxID() OperationID {
	return g.maxID
}

// Files returns the distinct file ids referenced by any operation, sorted.
func (g *Graph) Files() []filereg.FileID {
	seen := make(map[filereg.FileID]bool)
	for _, op := range g.operations {
		for _, id := range op.Files() {
			seen[id] = true
		}
	}
	return sortedFileIDs(seen)
}

// Validate checks that every child exists, that each dependency count equals
// the number of incoming edges, that the root set is exactly the operations
// without parents, and that the graph is acyclic.
func (g *Graph) Validate() error {
	incoming := make(map[OperationID]uint32, len(g.operations))
	for _, id := range g.IDs() {
		op := g.operations[id]
		seen := make(map[OperationID]bool, len(op.Children))
		for _, child := range op.Children {
			if _, ok := g.operations[child]; !ok {
				return fmt.Errorf("%w: operation %d lists child %d", ErrUnknownOperation, id, child)
			}
			if seen[child] {
				continue
			}
			seen[child] = true
			incoming[child]++
		}
	}
	for _, id := range g.IDs() {
		op := g.operations[id]
		if op.DependencyCount != incoming[id] {
			return fmt.Errorf("%w: operation %d declares %d dependencies, has %d incoming edges",
				ErrDependencyCount, id, op.DependencyCount, incoming[id])
		}
	}
	isRoot := make(map[OperationID]bool, len(g.roots))
	for _, id := range g.roots {
		op, ok := g.operations[id]
		if !ok {
			return fmt.Errorf("%w: root %d", ErrUnknownOperation, id)
		}
		if op.DependencyCount != 0 {
			return fmt.Errorf("%w: root %d has %d dependencies", ErrDependencyCount, id, op.DependencyCount)
		}
		isRoot[id] = true
	}
	for _, id := range g.IDs() {
		if g.operations[id].DependencyCount == 0 && !isRoot[id] {
			return fmt.Errorf("%w: operation %d has no dependencies but is not a root", ErrRootSet, id)
		}
	}
	_, err := g.TopologicalOrder()
	return err
}

// TopologicalOrder returns operation ids so that every operation precedes
// its children. Among operations ready at the same time, lower ids come
// first. Returns ErrCycle if not all operations can be ordered.
func (g *Graph) TopologicalOrder() ([]OperationID, error) {
	remaining := make(map[OperationID]int, len(g.operations))
	for id := range g.operations {
		remaining[id] = 0
	}
	for _, op := range g.operations {
		for _, child := range distinct(op.Children) {
			if _, ok := remaining[child]; ok {
				remaining[child]++
			}
		}
	}

	var ready []OperationID
	for id, n := range remaining {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]OperationID, 0, len(g.operations))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var freed []OperationID
		for _, child := range distinct(g.operations[id].Children) {
			remaining[child]--
			if remaining[child] == 0 {
				freed = append(freed, child)
			}
		}
		if len(freed) > 0 {
			ready = append(ready, freed...)
			sortIDs(ready)
		}
	}

	if len(order) != len(g.operations) {
		return nil, fmt.Errorf("%w: not all operations could be ordered (%d of %d)",
			ErrCycle, len(order), len(g.operations))
	}
	return order, nil
}

// Descendants returns every operation that transitively depends on id,
// sorted ascending. Returns nil for unknown ids.
func (g *Graph) Descendants(id OperationID) []OperationID {
	if _, ok := g.operations[id]; !ok {
		return nil
	}
	visited := make(map[OperationID]bool)
	queue := []OperationID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range g.operations[cur].Children {
			if !visited[child] {
				visited[child] = true
				queue = append(queue, child)
			}
		}
	}
	result := make([]OperationID, 0, len(visited))
	for v := range visited {
		result = append(result, v)
	}
	sortIDs(result)
	return result
}

func distinct(ids []OperationID) []OperationID {
	if len(ids) <= 1 {
		return ids
	}
	seen := make(map[OperationID]bool, len(ids))
	out := make([]OperationID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func sortIDs(ids []OperationID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortedFileIDs(set map[filereg.FileID]bool) []filereg.FileID {
	ids := make([]filereg.FileID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
