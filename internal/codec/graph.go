package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// GraphVersion is the only operation graph format version this package reads.
const GraphVersion uint32 = 6

// StoreGraph names the operation graph in errors and logs.
const StoreGraph = "operation graph"

// EncodeGraph writes g. File paths for every referenced id are taken from reg.
func EncodeGraph(w io.Writer, g *opgraph.Graph, reg *filereg.Registry) error {
	var e encoder
	e.header(magicGraph, GraphVersion)
	e.fileSection(g.Files(), reg)

	e.tag(sectionRoots)
	e.operationIDs(g.RootOperationIDs())

	ids := g.IDs()
	e.tag(sectionOperations)
	e.u32(uint32(len(ids)))
	for _, id := range ids {
		encodeOperation(&e, g.Operation(id))
	}
	_, err := w.Write(e.buf)
	return err
}

func encodeOperation(e *encoder, op *opgraph.Operation) {
	e.u32(uint32(op.ID))
	e.str(op.Title)
	e.str(op.Command.WorkingDirectory)
	e.str(op.Command.Executable)
	e.str(op.Command.Arguments)
	e.fileIDs(op.DeclaredInputs)
	e.fileIDs(op.DeclaredOutputs)
	e.fileIDs(op.ReadAccess)
	e.fileIDs(op.WriteAccess)
	e.operationIDs(op.Children)
	e.u32(op.DependencyCount)
	e.boolean(op.WasSuccessfulRun)
	e.millis(op.EvaluateTime)
	e.fileIDs(op.ObservedInputs)
	e.fileIDs(op.ObservedOutputs)
}

// DecodeGraph reads a graph whose file ids must agree with reg. Referenced
// files unknown to reg are adopted; ids bound to a different path in reg are
// rejected as a generation mismatch.
func DecodeGraph(data []byte, reg *filereg.Registry) (*opgraph.Graph, error) {
	d := newDecoder(StoreGraph, data)
	d.header(magicGraph, GraphVersion)
	files := d.fileSection()

	d.section(sectionRoots)
	roots := d.operationIDs()

	d.section(sectionOperations)
	n := d.count(4)
	ops := make([]*opgraph.Operation, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		ops = append(ops, decodeOperation(d))
	}
	if err := d.finish(); err != nil {
		return nil, err
	}

	g := opgraph.New()
	for _, op := range ops {
		if err := g.AddOperation(op); err != nil {
			return nil, &LoadError{Kind: KindCorrupt, Store: StoreGraph, Err: err}
		}
	}
	g.SetRootOperationIDs(roots)

	if err := checkReferenced(StoreGraph, files, g.Files()); err != nil {
		return nil, err
	}
	if err := bindFiles(StoreGraph, files, reg); err != nil {
		return nil, err
	}
	return g, nil
}

func decodeOperation(d *decoder) *opgraph.Operation {
	op := &opgraph.Operation{}
	op.ID = opgraph.OperationID(d.u32())
	op.Title = d.str()
	op.Command.WorkingDirectory = d.str()
	op.Command.Executable = d.str()
	op.Command.Arguments = d.str()
	op.DeclaredInputs = d.fileIDs()
	op.DeclaredOutputs = d.fileIDs()
	op.ReadAccess = d.fileIDs()
	op.WriteAccess = d.fileIDs()
	op.Children = d.operationIDs()
	op.DependencyCount = d.u32()
	op.WasSuccessfulRun = d.boolean("wasSuccessfulRun")
	op.EvaluateTime = d.millis()
	op.ObservedInputs = d.fileIDs()
	op.ObservedOutputs = d.fileIDs()
	return op
}

var errUnlistedFile = errors.New("record references a file missing from the file section")

// checkReferenced verifies that every id used by a record is listed in the
// store's own file section.
func checkReferenced(store string, listed []filereg.Entry, used []filereg.FileID) *LoadError {
	known := make(map[filereg.FileID]bool, len(listed))
	for _, e := range listed {
		known[e.ID] = true
	}
	for _, id := range used {
		if !known[id] {
			return &LoadError{Kind: KindCorrupt, Store: store, Err: fmt.Errorf("%w: %d", errUnlistedFile, id)}
		}
	}
	return nil
}
