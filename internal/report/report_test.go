package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/kiln/internal/engine"
	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/history"
	"github.com/papapumpkin/kiln/internal/journal"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

var nine = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func fixture(t *testing.T) (*opgraph.Graph, *filereg.Registry) {
	t.Helper()
	reg := filereg.New(filereg.NewMemFileSystem(), nil)
	src := reg.Intern("main.c", "/w")
	obj := reg.Intern("main.o", "/w")
	bin := reg.Intern("app", "/w")

	g := opgraph.New()
	require.NoError(t, g.AddOperation(&opgraph.Operation{
		ID:              1,
		Title:           "compile",
		Command:         opgraph.CommandIdentity{WorkingDirectory: "/w", Executable: "cc", Arguments: "-c main.c"},
		DeclaredInputs:  []filereg.FileID{src},
		DeclaredOutputs: []filereg.FileID{obj},
	}))
	require.NoError(t, g.AddOperation(&opgraph.Operation{
		ID:               2,
		Title:            "link",
		Command:          opgraph.CommandIdentity{WorkingDirectory: "/w", Executable: "cc", Arguments: "-o app main.o"},
		DeclaredInputs:   []filereg.FileID{obj},
		DeclaredOutputs:  []filereg.FileID{bin},
		WasSuccessfulRun: true,
		EvaluateTime:     nine,
	}))
	require.NoError(t, g.AddEdge(1, 2))
	g.ComputeRoots()
	return g, reg
}

func TestWriteGraph(t *testing.T) {
	t.Parallel()
	g, reg := fixture(t)

	var buf bytes.Buffer
	require.NoError(t, WriteGraph(&buf, g, reg))
	golden(t).Assert(t, "graph", buf.Bytes())
}

func TestWriteHistory(t *testing.T) {
	t.Parallel()
	g, _ := fixture(t)
	h := history.New()
	h.Record(1, history.Result{
		EvaluateTime:    nine.Add(-time.Minute),
		ObservedInputs:  []filereg.FileID{1},
		ObservedOutputs: []filereg.FileID{2},
	})
	h.Record(2, history.Result{
		WasSuccessful:   true,
		EvaluateTime:    nine,
		ObservedInputs:  []filereg.FileID{2, 4},
		ObservedOutputs: []filereg.FileID{3},
	})
	h.Record(7, history.Result{WasSuccessful: true})

	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, h, g))
	golden(t).Assert(t, "history", buf.Bytes())
}

func TestWriteHistory_Empty(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteHistory(&buf, history.New(), opgraph.New()))
	assert.Equal(t, "no recorded results\n", buf.String())
}

func summaryReport() *engine.Report {
	return &engine.Report{
		PassID: "pass",
		Outcomes: []engine.Outcome{
			{ID: 3, Title: "test", Status: engine.StatusBlocked},
			{ID: 1, Title: "compile", Status: engine.StatusSucceeded, Duration: 1500 * time.Millisecond},
			{ID: 2, Title: "link", Status: engine.StatusFailed, ExitCode: 2, Err: errors.New("exit code 2")},
			{ID: 4, Title: "docs", Status: engine.StatusSkipped},
		},
	}
}

func TestWriteSummary(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, summaryReport(), Options{}))
	golden(t).Assert(t, "summary", buf.Bytes())
}

func TestWriteSummary_Color(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, summaryReport(), Options{Color: true}))
	assert.Contains(t, buf.String(), "succeeded")
	assert.Contains(t, buf.String(), "4 operations")
}

func TestWriteSummary_NotRun(t *testing.T) {
	t.Parallel()
	r := &engine.Report{Outcomes: []engine.Outcome{{ID: 1, Title: "a", Status: engine.StatusPending}}}
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, r, Options{}))
	assert.True(t, strings.HasSuffix(buf.String(), ", 1 not run\n"))
}

func TestWritePasses(t *testing.T) {
	t.Parallel()
	passes := []journal.Pass{
		{
			ID:         "6f1c2d3e-0000-4000-8000-000000000002",
			Started:    nine.Add(5 * time.Minute),
			Operations: 2,
		},
		{
			ID:         "6f1c2d3e-0000-4000-8000-000000000001",
			Started:    nine,
			Finished:   nine.Add(2500 * time.Millisecond),
			Operations: 3,
			Succeeded:  1,
			Skipped:    1,
			Failed:     1,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WritePasses(&buf, passes))
	golden(t).Assert(t, "passes", buf.Bytes())
}

func TestWriteEntries(t *testing.T) {
	t.Parallel()
	entries := []journal.Entry{
		{OperationID: 1, Title: "compile", Status: engine.StatusSucceeded},
		{OperationID: 2, Title: "link", Status: engine.StatusFailed, ExitCode: 1, Error: "operation 2 (link): exit code 1"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteEntries(&buf, entries, Options{}))
	assert.Equal(t,
		"#1   compile  succeeded\n"+
			"#2   link     failed  operation 2 (link): exit code 1\n",
		buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestWrite_PropagatesWriterError(t *testing.T) {
	t.Parallel()
	g, reg := fixture(t)
	assert.EqualError(t, WriteGraph(failingWriter{}, g, reg), "closed pipe")
}
