package describe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// Document is the TOML form of a description file:
//
//	working_dir = "build"
//
//	[[operation]]
//	name = "compile"
//	executable = "cc"
//	arguments = "-c main.c -o main.o"
//	inputs = ["main.c"]
//	outputs = ["main.o"]
type Document struct {
	WorkingDirectory string                 `toml:"working_dir"`
	Operations       []OperationDescription `toml:"operation"`
}

// LoadDocument parses the description file at path. Relative working
// directories are resolved against the document's own directory, and the
// document-level working_dir is the default for operations that omit one.
func LoadDocument(path string) ([]OperationDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ParseDocument(data, path)
}

// ParseDocument parses description TOML as if it had been read from path.
func ParseDocument(data []byte, path string) ([]OperationDescription, error) {
	var doc Document
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	docDir := resolveDir(base, doc.WorkingDirectory)

	descs := make([]OperationDescription, len(doc.Operations))
	for i, d := range doc.Operations {
		d.WorkingDirectory = resolveDir(docDir, d.WorkingDirectory)
		d.Source = path
		descs[i] = d
	}
	return descs, nil
}

func resolveDir(base, dir string) string {
	switch {
	case dir == "":
		return base
	case filepath.IsAbs(dir):
		return filepath.Clean(dir)
	default:
		return filepath.Join(base, dir)
	}
}

// DocumentProvider serves the descriptions of one or more TOML documents in
// the order given.
type DocumentProvider struct {
	Paths []string
}

// APIVersion reports the version DocumentProvider produces.
func (DocumentProvider) APIVersion() int { return APIVersion }

// Operations loads every document.
func (p DocumentProvider) Operations(ctx context.Context) ([]OperationDescription, error) {
	var all []OperationDescription
	for _, path := range p.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		descs, err := LoadDocument(path)
		if err != nil {
			return nil, err
		}
		all = append(all, descs...)
	}
	return all, nil
}
