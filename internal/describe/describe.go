// Package describe is the boundary between description producers and the
// engine. Producers return plain OperationDescription values; Build turns
// them into an operation graph the engine owns exclusively.
package describe

import (
	"context"
	"errors"
	"fmt"
)

// APIVersion is the description format this package understands. Providers
// reporting any other version are rejected.
const APIVersion = 1

// Sentinel errors for description validation.
var (
	// ErrAPIVersion indicates a provider speaks a different description version.
	ErrAPIVersion = errors.New("unsupported description api version")
	// ErrMissingField indicates a required field (name, executable) is empty.
	ErrMissingField = errors.New("required field missing")
	// ErrDuplicateName indicates two descriptions share a name.
	ErrDuplicateName = errors.New("duplicate operation name")
	// ErrUnknownDep indicates depends_on references a name that does not exist.
	ErrUnknownDep = errors.New("depends on unknown operation")
)

// OperationDescription is a data-only description of one build step.
// Paths may be relative to WorkingDirectory.
type OperationDescription struct {
	Name             string   `toml:"name"`
	Title            string   `toml:"title"`
	WorkingDirectory string   `toml:"working_dir"`
	Executable       string   `toml:"executable"`
	Arguments        string   `toml:"arguments"`
	Inputs           []string `toml:"inputs"`
	Outputs          []string `toml:"outputs"`
	ReadAccess       []string `toml:"read_access"`
	WriteAccess      []string `toml:"write_access"`
	DependsOn        []string `toml:"depends_on"`
	Source           string   `toml:"-"`
}

// Provider produces operation descriptions.
type Provider interface {
	APIVersion() int
	Operations(ctx context.Context) ([]OperationDescription, error)
}

// Collect asks p for its descriptions after checking its version.
func Collect(ctx context.Context, p Provider) ([]OperationDescription, error) {
	if v := p.APIVersion(); v != APIVersion {
		return nil, fmt.Errorf("%w: provider speaks %d, want %d", ErrAPIVersion, v, APIVersion)
	}
	return p.Operations(ctx)
}

// ValidationError records a problem with one description.
type ValidationError struct {
	Name   string
	Source string
	Field  string
	Err    error
}

// Error returns the source and operation name with the underlying message.
func (e *ValidationError) Error() string {
	prefix := e.Source
	if prefix == "" {
		prefix = "descriptions"
	}
	if e.Name != "" {
		return prefix + ": operation " + e.Name + ": " + e.Err.Error()
	}
	return prefix + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks names and dependency references.
func Validate(descs []OperationDescription) []error {
	var errs []error
	seen := make(map[string]string)

	for _, d := range descs {
		if d.Name == "" {
			errs = append(errs, &ValidationError{
				Source: d.Source, Field: "name",
				Err: fmt.Errorf("%w: name", ErrMissingField),
			})
			continue
		}
		if d.Executable == "" {
			errs = append(errs, &ValidationError{
				Name: d.Name, Source: d.Source, Field: "executable",
				Err: fmt.Errorf("%w: executable", ErrMissingField),
			})
		}
		if prev, ok := seen[d.Name]; ok {
			errs = append(errs, &ValidationError{
				Name: d.Name, Source: d.Source, Field: "name",
				Err: fmt.Errorf("%w: %q already defined in %s", ErrDuplicateName, d.Name, prev),
			})
		}
		seen[d.Name] = d.Source
	}

	for _, d := range descs {
		for _, dep := range d.DependsOn {
			if _, ok := seen[dep]; !ok {
				errs = append(errs, &ValidationError{
					Name: d.Name, Source: d.Source, Field: "depends_on",
					Err: fmt.Errorf("%w: %q", ErrUnknownDep, dep),
				})
			}
		}
	}
	return errs
}
