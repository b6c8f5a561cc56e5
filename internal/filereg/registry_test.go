package filereg

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/kiln/internal/testutil"
)

func TestIntern(t *testing.T) {
	t.Parallel()

	t.Run("relative paths resolve against working dir", func(t *testing.T) {
		t.Parallel()
		r := New(NewMemFileSystem(), nil)
		id := r.Intern("src/main.c", "/work")
		p, ok := r.Path(id)
		require.True(t, ok)
		assert.Equal(t, "/work/src/main.c", p)
	})

	t.Run("absolute paths ignore working dir", func(t *testing.T) {
		t.Parallel()
		r := New(NewMemFileSystem(), nil)
		id := r.Intern("/abs/file.h", "/work")
		assert.Equal(t, "/abs/file.h", r.MustPath(id))
	})

	t.Run("same path returns same id", func(t *testing.T) {
		t.Parallel()
		r := New(NewMemFileSystem(), nil)
		a := r.Intern("a.c", "/work")
		b := r.Intern("/work/./a.c", "/elsewhere")
		assert.Equal(t, a, b)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("ids start at one", func(t *testing.T) {
		t.Parallel()
		r := New(NewMemFileSystem(), nil)
		assert.Equal(t, FileID(1), r.Intern("x", "/"))
		assert.Equal(t, FileID(2), r.Intern("y", "/"))
	})
}

func TestIntern_MonotonicAndUnique(t *testing.T) {
	t.Parallel()
	r := New(NewMemFileSystem(), nil)

	seen := make(map[FileID]string)
	prevMax := r.MaxID()
	for i := 0; i < 200; i++ {
		// Revisit earlier paths to mix hits and misses.
		path := fmt.Sprintf("dir%d/file%d.o", i%7, i%53)
		id := r.Intern(path, "/build")

		assert.GreaterOrEqual(t, r.MaxID(), prevMax)
		prevMax = r.MaxID()

		abs := Resolve(path, "/build")
		if other, ok := seen[id]; ok {
			assert.Equal(t, other, abs, "id %d shared by two paths", id)
		}
		seen[id] = abs
	}
	assert.Equal(t, len(seen), r.Len())
	assert.Equal(t, FileID(r.Len()), r.MaxID())
}

func TestAdopt(t *testing.T) {
	t.Parallel()

	r := New(NewMemFileSystem(), nil)
	require.True(t, r.Adopt(5, "/a"))
	assert.Equal(t, FileID(5), r.MaxID())
	assert.True(t, r.Adopt(5, "/a"), "re-adopting an identical pair is accepted")
	assert.False(t, r.Adopt(5, "/b"), "id bound to another path")
	assert.False(t, r.Adopt(6, "/a"), "path bound to another id")

	// New paths continue after the adopted maximum.
	assert.Equal(t, FileID(6), r.Intern("/c", "/"))
}

func TestProbeWriteTimes(t *testing.T) {
	t.Parallel()

	fs := NewMemFileSystem()
	t1 := time.Date(2024, 1, 1, 9, 11, 0, 0, time.UTC)
	fs.Touch("/w/in.cpp", t1)

	logger, logs := testutil.NewLogger()
	r := New(fs, logger)
	in := r.Intern("in.cpp", "/w")
	out := r.Intern("out.o", "/w")
	denied := r.Intern("secret", "/w")
	fs.FailWith("/w/secret", errors.New("permission denied"))

	_, probed := r.CachedWriteTime(in)
	assert.False(t, probed, "nothing probed yet")

	r.ProbeWriteTimes([]FileID{in, out, denied})

	wt, ok := r.CachedWriteTime(in)
	require.True(t, ok)
	assert.True(t, wt.Exists)
	assert.True(t, wt.Time.Equal(t1))

	wt, ok = r.CachedWriteTime(out)
	require.True(t, ok)
	assert.False(t, wt.Exists)

	wt, ok = r.CachedWriteTime(denied)
	require.True(t, ok)
	assert.False(t, wt.Exists, "probe errors are treated as missing")
	assert.True(t, logs.Contains("file probe failed"))
	assert.True(t, logs.Contains("level=WARN"))

	// A fresh probe overwrites the cached value.
	t2 := t1.Add(time.Minute)
	fs.Touch("/w/out.o", t2)
	r.ProbeWriteTimes([]FileID{out})
	wt, _ = r.CachedWriteTime(out)
	assert.True(t, wt.Exists)
	assert.True(t, wt.Time.Equal(t2))
}

func TestEnsureWriteTimes_ProbesOnlyMisses(t *testing.T) {
	t.Parallel()

	fs := NewMemFileSystem()
	fs.Touch("/w/a", time.Unix(100, 0))
	r := New(fs, nil)
	a := r.Intern("a", "/w")
	b := r.Intern("b", "/w")

	r.EnsureWriteTimes([]FileID{a, b})
	assert.Equal(t, 2, fs.Probes())

	r.EnsureWriteTimes([]FileID{a, b})
	assert.Equal(t, 2, fs.Probes(), "cached entries are not re-probed")

	r.InvalidateWriteTimes([]FileID{b})
	r.EnsureWriteTimes([]FileID{a, b})
	assert.Equal(t, 3, fs.Probes())
}

func TestEntries_SortedByID(t *testing.T) {
	t.Parallel()
	r := New(NewMemFileSystem(), nil)
	r.Intern("/z", "/")
	r.Intern("/a", "/")
	r.Intern("/m", "/")

	assert.Equal(t, []Entry{
		{ID: 1, Path: "/z"},
		{ID: 2, Path: "/a"},
		{ID: 3, Path: "/m"},
	}, r.Entries())
}

func TestOSFileSystem(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, exists, err := OSFileSystem{}.WriteTime(dir + "/missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, exists, err = OSFileSystem{}.WriteTime(dir)
	require.NoError(t, err)
	assert.True(t, exists)
}
