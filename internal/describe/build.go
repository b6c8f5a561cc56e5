package describe

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// ErrDuplicateOutput indicates two descriptions declare the same output file.
var ErrDuplicateOutput = errors.New("output declared by more than one operation")

// Build turns descs into a validated graph, interning every path in reg.
//
// An operation whose command already exists in previous keeps that
// operation's id together with its last outcome and observed sets, so its
// execution history stays attached. New operations get ids above
// previous.MaxID() in description order. Besides explicit depends_on edges,
// an operation depends on whichever operation declares one of its inputs as
// an output.
func Build(descs []OperationDescription, reg *filereg.Registry, previous *opgraph.Graph) (*opgraph.Graph, error) {
	if errs := Validate(descs); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if previous == nil {
		previous = opgraph.New()
	}

	g := opgraph.New()
	byName := make(map[string]opgraph.OperationID, len(descs))
	byCommand := make(map[opgraph.CommandIdentity]string, len(descs))
	nextID := previous.MaxID()

	for _, d := range descs {
		wd, err := workingDir(d.WorkingDirectory)
		if err != nil {
			return nil, &ValidationError{Name: d.Name, Source: d.Source, Field: "working_dir", Err: err}
		}
		cmd := opgraph.CommandIdentity{WorkingDirectory: wd, Executable: d.Executable, Arguments: d.Arguments}
		if other, dup := byCommand[cmd]; dup {
			return nil, &ValidationError{
				Name: d.Name, Source: d.Source,
				Err: fmt.Errorf("%w: %q also used by %s", opgraph.ErrDuplicateCommand, cmd.String(), other),
			}
		}
		byCommand[cmd] = d.Name

		op := &opgraph.Operation{
			Title:           d.Title,
			Command:         cmd,
			DeclaredInputs:  intern(reg, d.Inputs, wd),
			DeclaredOutputs: intern(reg, d.Outputs, wd),
			ReadAccess:      intern(reg, d.ReadAccess, wd),
			WriteAccess:     intern(reg, d.WriteAccess, wd),
		}
		if op.Title == "" {
			op.Title = d.Name
		}
		if prevID, ok := previous.FindOperationByCommand(cmd); ok {
			prev := previous.Operation(prevID)
			op.ID = prevID
			op.WasSuccessfulRun = prev.WasSuccessfulRun
			op.EvaluateTime = prev.EvaluateTime
			op.ObservedInputs = prev.ObservedInputs
			op.ObservedOutputs = prev.ObservedOutputs
		} else {
			nextID++
			op.ID = nextID
		}
		if err := g.AddOperation(op); err != nil {
			return nil, fmt.Errorf("adding %s: %w", d.Name, err)
		}
		byName[d.Name] = op.ID
	}

	producers := make(map[filereg.FileID]opgraph.OperationID)
	for _, d := range descs {
		id := byName[d.Name]
		for _, out := range g.Operation(id).DeclaredOutputs {
			if other, ok := producers[out]; ok && other != id {
				return nil, &ValidationError{
					Name: d.Name, Source: d.Source, Field: "outputs",
					Err: fmt.Errorf("%w: %s also produced by %s", ErrDuplicateOutput, reg.MustPath(out), g.Operation(other).Title),
				}
			}
			producers[out] = id
		}
	}

	for _, d := range descs {
		id := byName[d.Name]
		for _, dep := range d.DependsOn {
			if err := g.AddEdge(byName[dep], id); err != nil {
				return nil, fmt.Errorf("%s depends on %s: %w", d.Name, dep, err)
			}
		}
		for _, in := range g.Operation(id).DeclaredInputs {
			if producer, ok := producers[in]; ok && producer != id {
				if err := g.AddEdge(producer, id); err != nil {
					return nil, fmt.Errorf("%s reads %s: %w", d.Name, reg.MustPath(in), err)
				}
			}
		}
	}

	g.ComputeRoots()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func workingDir(wd string) (string, error) {
	if wd == "" {
		wd = "."
	}
	abs, err := filepath.Abs(wd)
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return abs, nil
}

func intern(reg *filereg.Registry, paths []string, wd string) []filereg.FileID {
	if len(paths) == 0 {
		return nil
	}
	seen := make(map[filereg.FileID]bool, len(paths))
	ids := make([]filereg.FileID, 0, len(paths))
	for _, p := range paths {
		id := reg.Intern(p, wd)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
