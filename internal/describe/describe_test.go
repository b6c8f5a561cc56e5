package describe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/kiln/internal/filereg"
	"github.com/papapumpkin/kiln/internal/opgraph"
)

func program() []OperationDescription {
	return []OperationDescription{
		{Name: "compile", WorkingDirectory: "/w", Executable: "cc", Arguments: "-c main.c", Inputs: []string{"main.c"}, Outputs: []string{"main.o"}},
		{Name: "link", WorkingDirectory: "/w", Executable: "cc", Arguments: "-o app main.o", Inputs: []string{"main.o"}, Outputs: []string{"app"}},
		{Name: "test", Title: "run tests", WorkingDirectory: "/w", Executable: "./app", Arguments: "--selftest", DependsOn: []string{"link"}},
	}
}

func newRegistry() *filereg.Registry {
	return filereg.New(filereg.NewMemFileSystem(), nil)
}

func TestBuild_Edges(t *testing.T) {
	t.Parallel()
	reg := newRegistry()

	g, err := Build(program(), reg, nil)
	require.NoError(t, err)

	assert.Equal(t, []opgraph.OperationID{1, 2, 3}, g.IDs())
	assert.Equal(t, []opgraph.OperationID{1}, g.RootOperationIDs())
	assert.Equal(t, []opgraph.OperationID{2}, g.Operation(1).Children, "link reads what compile writes")
	assert.Equal(t, []opgraph.OperationID{3}, g.Operation(2).Children, "explicit depends_on")
	assert.Equal(t, uint32(1), g.Operation(3).DependencyCount)

	assert.Equal(t, "compile", g.Operation(1).Title, "title defaults to name")
	assert.Equal(t, "run tests", g.Operation(3).Title)

	in, ok := reg.Lookup("/w/main.c")
	require.True(t, ok)
	assert.Equal(t, []filereg.FileID{in}, g.Operation(1).DeclaredInputs)
}

func TestBuild_CarriesForwardIDsAndOutcome(t *testing.T) {
	t.Parallel()
	reg := newRegistry()
	first, err := Build(program(), reg, nil)
	require.NoError(t, err)

	link := first.Operation(2)
	link.WasSuccessfulRun = true
	link.EvaluateTime = time.UnixMilli(5000).UTC()
	link.ObservedInputs = []filereg.FileID{reg.Intern("/usr/lib/libc.a", "/")}

	descs := program()
	descs = append([]OperationDescription{{
		Name: "gen", WorkingDirectory: "/w", Executable: "gen", Outputs: []string{"main.c"},
	}}, descs[1], descs[0], descs[2])

	second, err := Build(descs, reg, first)
	require.NoError(t, err)

	id, ok := second.FindOperationByCommand(link.Command)
	require.True(t, ok)
	assert.Equal(t, opgraph.OperationID(2), id)
	carried := second.Operation(2)
	assert.True(t, carried.WasSuccessfulRun)
	assert.Equal(t, link.EvaluateTime, carried.EvaluateTime)
	assert.Equal(t, link.ObservedInputs, carried.ObservedInputs)

	gen, ok := second.FindOperationByCommand(opgraph.CommandIdentity{WorkingDirectory: "/w", Executable: "gen"})
	require.True(t, ok)
	assert.Equal(t, opgraph.OperationID(4), gen, "new operations get ids above the previous maximum")
	assert.Equal(t, []opgraph.OperationID{4}, second.RootOperationIDs())
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func([]OperationDescription) []OperationDescription
		want   error
	}{
		{
			name: "duplicate name",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[1].Name = "compile"
				return d
			},
			want: ErrDuplicateName,
		},
		{
			name: "unknown dependency",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[2].DependsOn = []string{"package"}
				return d
			},
			want: ErrUnknownDep,
		},
		{
			name: "missing executable",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[0].Executable = ""
				return d
			},
			want: ErrMissingField,
		},
		{
			name: "duplicate command",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[1].Arguments = d[0].Arguments
				return d
			},
			want: opgraph.ErrDuplicateCommand,
		},
		{
			name: "duplicate output",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[2].Outputs = []string{"main.o"}
				return d
			},
			want: ErrDuplicateOutput,
		},
		{
			name: "cycle",
			mutate: func(d []OperationDescription) []OperationDescription {
				d[0].DependsOn = []string{"test"}
				return d
			},
			want: opgraph.ErrCycle,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(tt.mutate(program()), newRegistry(), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseDocument(t *testing.T) {
	t.Parallel()
	src := []byte(`
working_dir = "out"

[[operation]]
name = "compile"
executable = "cc"
arguments = "-c ../main.c"
inputs = ["../main.c"]
outputs = ["main.o"]

[[operation]]
name = "docs"
working_dir = "/srv/docs"
executable = "make"
depends_on = ["compile"]
`)

	descs, err := ParseDocument(src, "/proj/kiln.toml")
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, "/proj/out", descs[0].WorkingDirectory)
	assert.Equal(t, []string{"../main.c"}, descs[0].Inputs)
	assert.Equal(t, "/proj/kiln.toml", descs[0].Source)
	assert.Equal(t, "/srv/docs", descs[1].WorkingDirectory)
	assert.Equal(t, []string{"compile"}, descs[1].DependsOn)

	reg := newRegistry()
	g, err := Build(descs, reg, nil)
	require.NoError(t, err)
	_, ok := reg.Lookup("/proj/main.c")
	assert.True(t, ok)
	assert.Equal(t, []opgraph.OperationID{2}, g.Operation(1).Children)
}

func TestParseDocument_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := ParseDocument([]byte("[[operation]]\nname = \"x\"\ncommand = \"cc\"\n"), "/p/kiln.toml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/p/kiln.toml")
}

type fakeProvider struct{ version int }

func (f fakeProvider) APIVersion() int { return f.version }

func (f fakeProvider) Operations(context.Context) ([]OperationDescription, error) {
	return program(), nil
}

func TestCollect(t *testing.T) {
	t.Parallel()

	descs, err := Collect(context.Background(), fakeProvider{version: APIVersion})
	require.NoError(t, err)
	assert.Len(t, descs, 3)

	_, err = Collect(context.Background(), fakeProvider{version: APIVersion + 1})
	assert.ErrorIs(t, err, ErrAPIVersion)
}

func TestDocumentProvider(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.toml")
	b := filepath.Join(dir, "b.toml")
	require.NoError(t, os.WriteFile(a, []byte("[[operation]]\nname = \"one\"\nexecutable = \"true\"\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("[[operation]]\nname = \"two\"\nexecutable = \"false\"\n"), 0o644))

	descs, err := Collect(context.Background(), DocumentProvider{Paths: []string{a, b}})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "one", descs[0].Name)
	assert.Equal(t, dir, descs[1].WorkingDirectory)

	_, err = DocumentProvider{Paths: []string{filepath.Join(dir, "missing.toml")}}.Operations(context.Background())
	assert.Error(t, err)
}
