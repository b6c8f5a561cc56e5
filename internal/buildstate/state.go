// Package buildstate persists the file registry, the operation graph and the
// execution history of one logical build under a state directory.
package buildstate

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/papapumpkin/kiln/internal/codec"
	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

// File names inside the state directory.
const (
	FilesFileName   = "files.bin"
	GraphFileName   = "graph.bin"
	HistoryFileName = "results.bin"
)

// ErrHistoryOrphaned reports a history store dropped because the graph its
// operation ids refer to could not be loaded.
var ErrHistoryOrphaned = errors.New("history discarded without its operation graph")

// State is the in-memory form of the three stores.
type State struct {
	Registry *filereg.Registry
	Graph    *opgraph.Graph
	History  *history.History
}

// Empty returns a State with empty stores.
func Empty(fsys filereg.FileSystem, logger *slog.Logger) *State {
	return &State{
		Registry: filereg.New(fsys, logger),
		Graph:    opgraph.New(),
		History:  history.New(),
	}
}

// Load reads the stores from dir. It never fails: every store that cannot be
// read is replaced by an empty one and the reason is logged and returned.
// Missing files are expected on a first build and are logged at debug level.
// A history store is only kept when the graph store loaded with it.
func Load(dir string, fsys filereg.FileSystem, logger *slog.Logger) (*State, []error) {
	if logger == nil {
		logger = slog.Default()
	}
	st := Empty(fsys, logger)
	var problems []error

	report := func(err error) {
		problems = append(problems, err)
		if codec.KindOf(err) == codec.KindMissing {
			logger.Debug("no persisted store", slog.String("reason", err.Error()))
			return
		}
		logger.Warn("discarding persisted store, full rebuild of its contents",
			slog.String("reason", err.Error()))
	}

	if data, err := readStore(dir, FilesFileName, codec.StoreFileRegistry); err != nil {
		report(err)
	} else if err := codec.DecodeFileRegistry(data, st.Registry); err != nil {
		report(err)
	}

	graphLoaded := false
	if data, err := readStore(dir, GraphFileName, codec.StoreGraph); err != nil {
		report(err)
	} else if g, err := codec.DecodeGraph(data, st.Registry); err != nil {
		report(err)
	} else {
		st.Graph = g
		graphLoaded = true
	}

	// Results are keyed by operation id, and ids are only stable through the
	// graph they were assigned in.
	if data, err := readStore(dir, HistoryFileName, codec.StoreHistory); err != nil {
		report(err)
	} else if !graphLoaded {
		problems = append(problems, ErrHistoryOrphaned)
		logger.Warn("discarding persisted store, full rebuild of its contents",
			slog.String("reason", ErrHistoryOrphaned.Error()))
	} else if h, err := codec.DecodeHistory(data, st.Registry); err != nil {
		report(err)
	} else {
		st.History = h
	}

	return st, problems
}

func readStore(dir, name, store string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		kind := codec.KindTruncated
		if errors.Is(err, fs.ErrNotExist) {
			kind = codec.KindMissing
		}
		return nil, &codec.LoadError{Kind: kind, Store: store, Err: err}
	}
	return data, nil
}

// Save writes all three stores into dir, creating it if needed. Each file is
// written atomically (write temp + rename).
func Save(dir string, st *State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := writeStore(dir, FilesFileName, func(w io.Writer) error {
		return codec.EncodeFileRegistry(w, st.Registry)
	}); err != nil {
		return err
	}
	if err := writeStore(dir, GraphFileName, func(w io.Writer) error {
		return codec.EncodeGraph(w, st.Graph, st.Registry)
	}); err != nil {
		return err
	}
	return writeStore(dir, HistoryFileName, func(w io.Writer) error {
		return codec.EncodeHistory(w, st.History, st.Registry)
	})
}

func writeStore(dir, name string, encode func(io.Writer) error) error {
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing temp %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return nil
}

// Clean removes the persisted stores from dir. Missing files are ignored.
func Clean(dir string) error {
	for _, name := range []string{FilesFileName, GraphFileName, HistoryFileName} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", name, err)
		}
	}
	return nil
}

// Saver adapts Save to the engine's persistence hook.
type Saver struct {
	Dir string
}

// Save writes st's stores into s.Dir.
func (s Saver) Save(reg *filereg.Registry, g *opgraph.Graph, h *history.History) error {
	return Save(s.Dir, &State{Registry: reg, Graph: g, History: h})
}
